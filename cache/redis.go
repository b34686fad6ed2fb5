package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/fnportal/cache/serializer"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// scanBatch 每次 SCAN 的建议数量
const scanBatch = 200

// redisStore 以 Redis String 保存条目，键为 prefix + Identity.String()，不设过期时间。
// 多个进程共享同一个 prefix 即共享缓存。
type redisStore struct {
	client     *redis.Client
	serializer serializer.Serializer
	prefix     string
}

func newRedisStore(client *redis.Client, prefix string, s serializer.Serializer) *redisStore {
	return &redisStore{client: client, serializer: s, prefix: prefix}
}

func (s *redisStore) key(k string) string {
	return s.prefix + k
}

func (s *redisStore) Get(ctx context.Context, key string) (transport.Outcome, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return transport.Outcome{}, false, nil
	}
	if err != nil {
		return transport.Outcome{}, false, xerrors.Wrap(err, "redis get")
	}
	var e entry
	if err := s.serializer.Unmarshal(data, &e); err != nil {
		return transport.Outcome{}, false, xerrors.Wrapf(err, "decode %s entry", s.serializer.Name())
	}
	return e.outcome(), true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, out transport.Outcome) error {
	data, err := s.serializer.Marshal(newEntry(out))
	if err != nil {
		return xerrors.Wrapf(err, "encode %s entry", s.serializer.Name())
	}
	return xerrors.Wrap(s.client.Set(ctx, s.key(key), data, 0).Err(), "redis set")
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return xerrors.Wrap(s.client.Del(ctx, s.key(key)).Err(), "redis del")
}

func (s *redisStore) DeletePrefix(ctx context.Context, prefix string) error {
	return s.deleteMatching(ctx, escapeGlob(s.key(prefix))+"*")
}

func (s *redisStore) Clear(ctx context.Context) error {
	return s.deleteMatching(ctx, escapeGlob(s.prefix)+"*")
}

func (s *redisStore) deleteMatching(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return xerrors.Wrap(err, "redis del")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return xerrors.Wrap(err, "redis scan")
	}
	if len(batch) > 0 {
		return xerrors.Wrap(s.client.Del(ctx, batch...).Err(), "redis del")
	}
	return nil
}

// Close 不关闭客户端，连接由 connector 管理
func (s *redisStore) Close() error {
	return nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
