// Package connector 管理 fnportal 依赖的外部连接：Redis（缓存存储与跨实例失效）
// 与 NATS（错误事件外发）。
//
// 连接器只负责连接的生命周期；使用连接的组件（cache、broadcast）借用客户端，
// 不调用 Close。应用层按 LIFO 顺序释放：先关闭组件，再关闭连接器。
//
//	conn, err := connector.NewRedis(&connector.RedisConfig{Addr: "127.0.0.1:6379"},
//		connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	store := cache.NewRedisStore(conn.GetClient(), "fnportal:", serializer)
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Connector 所有连接器的通用行为，方法均并发安全
type Connector interface {
	// Connect 建立连接，幂等
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，幂等
	Close() error

	// HealthCheck 发送探测请求并更新缓存的健康状态
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最近一次检查的结果，不阻塞
	IsHealthy() bool

	// Name 连接实例名称，用于日志与指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Connect 之前可能为 nil
	GetClient() T
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// NATSConnector NATS 连接器
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}
