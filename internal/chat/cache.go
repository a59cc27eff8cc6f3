package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"unichat/internal/models"
	"unichat/internal/redis"
)

const (
	invalidateChannel = "chat:invalidate"
	defaultCacheTTL   = 30 * time.Minute
)

const (
	scopeSession = "session"
	scopeHistory = "history"
	scopeFiles   = "files"
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
	Origin    string `json:"origin"`
}

// Cache keeps loaded history and file lists per session in redis and tells
// other processes when a session changed. A nil *Cache is a valid no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache returns nil when client is nil.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) historyKey(sessionID string) string {
	return c.client.Key("chat", "history", sessionID)
}

func (c *Cache) filesKey(sessionID string) string {
	return c.client.Key("chat", "files", sessionID)
}

func (c *Cache) cacheHistory(ctx context.Context, sessionID string, history []models.Message) {
	if c == nil || sessionID == "" {
		return
	}
	c.store(ctx, c.historyKey(sessionID), history)
}

func (c *Cache) cacheFiles(ctx context.Context, sessionID string, files []models.UploadedFile) {
	if c == nil || sessionID == "" {
		return
	}
	c.store(ctx, c.filesKey(sessionID), files)
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) loadHistory(ctx context.Context, sessionID string) ([]models.Message, bool) {
	if c == nil || sessionID == "" {
		return nil, false
	}
	var history []models.Message
	return history, c.load(ctx, c.historyKey(sessionID), &history)
}

func (c *Cache) loadFiles(ctx context.Context, sessionID string) ([]models.UploadedFile, bool) {
	if c == nil || sessionID == "" {
		return nil, false
	}
	var files []models.UploadedFile
	return files, c.load(ctx, c.filesKey(sessionID), &files)
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// invalidate drops the cached scope for sessionID and broadcasts it.
func (c *Cache) invalidate(ctx context.Context, sessionID, scope, origin string) {
	if c == nil || sessionID == "" {
		return
	}
	var keys []string
	switch scope {
	case scopeHistory:
		keys = []string{c.historyKey(sessionID)}
	case scopeFiles:
		keys = []string{c.filesKey(sessionID)}
	default:
		keys = []string{c.historyKey(sessionID), c.filesKey(sessionID)}
	}
	if err := c.client.Del(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidate failed", "session_id", sessionID, "error", err)
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: sessionID, Scope: scope, Origin: origin})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.client.Key(invalidateChannel), payload); err != nil {
		c.logger.Warn("publish invalidation failed", "session_id", sessionID, "error", err)
	}
}

// listen delivers invalidation messages until ctx is done.
func (c *Cache) listen(ctx context.Context, handler func(invalidateMessage)) error {
	if c == nil || handler == nil {
		return nil
	}
	return c.client.Subscribe(ctx, c.client.Key(invalidateChannel), func(payload []byte) {
		var msg invalidateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("invalidation decode failed", "error", err)
			return
		}
		handler(msg)
	})
}
