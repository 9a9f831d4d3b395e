package utils

import (
	"context"
	"testing"
)

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.DialTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		t.Fatalf("expected positive timeouts, got %+v", c)
	}
	if c.PoolSize <= 0 || c.PoolTimeout <= 0 || c.PingTimeout <= 0 {
		t.Fatalf("expected positive pool settings, got %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
