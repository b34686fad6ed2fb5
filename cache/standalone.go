package cache

import (
	"context"
	"strings"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// standaloneStore 进程内存储，容量满时由 otter 按访问频率淘汰。
// 条目没有过期时间，只通过失效删除。
type standaloneStore struct {
	cache *otter.Cache[string, entry]
}

func newStandaloneStore(capacity int) (*standaloneStore, error) {
	c, err := otter.New(&otter.Options[string, entry]{
		MaximumSize: capacity,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}
	return &standaloneStore{cache: c}, nil
}

func (s *standaloneStore) Get(_ context.Context, key string) (transport.Outcome, bool, error) {
	e, ok := s.cache.GetIfPresent(key)
	if !ok {
		return transport.Outcome{}, false, nil
	}
	return e.outcome(), true, nil
}

func (s *standaloneStore) Set(_ context.Context, key string, out transport.Outcome) error {
	s.cache.Set(key, newEntry(out))
	return nil
}

func (s *standaloneStore) Delete(_ context.Context, key string) error {
	s.cache.Invalidate(key)
	return nil
}

func (s *standaloneStore) DeletePrefix(_ context.Context, prefix string) error {
	var keys []string
	for k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		s.cache.Invalidate(k)
	}
	return nil
}

func (s *standaloneStore) Clear(context.Context) error {
	s.cache.InvalidateAll()
	return nil
}

func (s *standaloneStore) Close() error {
	s.cache.StopAllGoroutines()
	return nil
}
