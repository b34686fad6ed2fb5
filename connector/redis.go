package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/ceyewan/fnportal/xerrors"
)

type redisConnector struct {
	base
	cfg    *RedisConfig
	client *redis.Client
}

// NewRedis 创建 Redis 连接器，客户端立即可用，Connect 负责 Ping 确认可达
func NewRedis(cfg *RedisConfig, opts ...Option) (RedisConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "redis config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// 单机 Redis 不发送维护通知
		MaintNotificationsConfig: &maintnotifications.Config{Mode: maintnotifications.ModeDisabled},
	})
	c := &redisConnector{cfg: cfg, client: client}
	c.init("redis", cfg.Name, opts)
	return c, nil
}

func (c *redisConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.healthy.Load():
		return nil
	}

	err := c.client.Ping(ctx).Err()
	c.connected(ctx, c.cfg.Addr, err)
	if err != nil {
		return xerrors.Combine(xerrors.Wrapf(ErrConnection, "redis %s", c.name), err)
	}
	return nil
}

func (c *redisConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy.Store(false)
	return xerrors.Wrap(c.client.Close(), "close redis")
}

func (c *redisConnector) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return c.checked(xerrors.Combine(ErrHealthCheck, err))
	}
	return c.checked(nil)
}

func (c *redisConnector) GetClient() *redis.Client { return c.client }
