package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/fnportal/connector"
)

// GetRedisConfig 返回 Redis 测试配置
// 默认连接 localhost:6379，可通过 FNPORTAL_TEST_REDIS_ADDR 环境变量覆盖
func GetRedisConfig() *connector.RedisConfig {
	addr := os.Getenv("FNPORTAL_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &connector.RedisConfig{
		Name:         "test-redis",
		Addr:         addr,
		DB:           1, // 避免与默认的 DB 0 冲突
		PoolSize:     10,
		DialTimeout:  time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// GetRedisConnector 连接测试 Redis，不可用时跳过当前测试
func GetRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	conn, err := connector.NewRedis(GetRedisConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create redis connector: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return conn
}

// GetRedisClient 返回测试 Redis 客户端，不可用时跳过当前测试
func GetRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	return GetRedisConnector(t).GetClient()
}
