package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"unichat/internal/config"
)

func TestNewRedisClientDisabledWithoutHost(t *testing.T) {
	client, err := NewRedisClient(&config.Config{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client without host")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
	if _, err := client.Get(context.Background(), "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
}

func TestNewRedisClientRequiresConfig(t *testing.T) {
	if _, err := NewRedisClient(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestKeyUsesPrefix(t *testing.T) {
	c := &Client{prefix: "unichat:"}
	if got := c.Key("chat", "history", "s-1"); got != "unichat:chat:history:s-1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSetGetDelPatternAndPubSub(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	key := client.Key("test", "greeting")
	if err := client.Set(ctx, key, "hello", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := client.Get(ctx, key)
	if err != nil || got != "hello" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if ttl, err := client.TTL(ctx, key); err != nil || ttl <= 0 {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}
	if err := client.DelPattern(ctx, client.Key("test", "*")); err != nil {
		t.Fatalf("del pattern: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received := make(chan string, 1)
	channel := client.Key("test", "events")
	if err := client.Subscribe(subCtx, channel, func(b []byte) { received <- string(b) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Publish(ctx, channel, []byte("ping")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-received:
		if msg != "ping" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.DelPattern(context.Background(), client.Key("test", "*"))
		client.Close()
	})
	return client
}
