package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/pu-ac-cn/cas-server/internal/config"
)

// TestInit 测试 Redis 初始化
func TestInit(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.RedisConfig{Addr: mr.Addr()}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init() 失败: %v", err)
	}
	defer Close()

	// 验证客户端已初始化
	c := GetClient()
	if c == nil {
		t.Fatal("GetClient() 返回 nil")
	}

	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Ping 失败: %v", err)
	}
}

// TestInitBadAddr 测试连接失败
func TestInitBadAddr(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "127.0.0.1:1"}
	if err := Init(cfg); err == nil {
		t.Error("期望连接失败返回错误")
		Close()
	}
}

// TestClose 测试关闭连接
func TestClose(t *testing.T) {
	mr := miniredis.RunT(t)

	if err := Init(&config.RedisConfig{Addr: mr.Addr()}); err != nil {
		t.Fatalf("Init() 失败: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("Close() 失败: %v", err)
	}
}

// TestCloseNil 测试未初始化时关闭
func TestCloseNil(t *testing.T) {
	client = nil
	if err := Close(); err != nil {
		t.Errorf("未初始化时 Close() 应返回 nil, 实际 %v", err)
	}
}
