package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/fnportal/connector"
)

// GetNATSConfig 返回 NATS 测试配置
// 默认连接 nats://localhost:4222，可通过 FNPORTAL_TEST_NATS_URL 环境变量覆盖
func GetNATSConfig() *connector.NATSConfig {
	url := os.Getenv("FNPORTAL_TEST_NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	return &connector.NATSConfig{
		Name:    "test-nats",
		URL:     url,
		Timeout: time.Second,
	}
}

// GetNATSConn 连接测试 NATS，不可用时跳过当前测试
func GetNATSConn(t *testing.T) *nats.Conn {
	t.Helper()
	conn, err := connector.NewNATS(GetNATSConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create nats connector: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Skipf("nats not available: %v", err)
	}
	return conn.GetClient()
}
