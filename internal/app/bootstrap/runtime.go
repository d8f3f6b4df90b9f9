package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/webchat"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore picks the session backend. requireShared is set when
// another process drives the same sessions (the SQS workflow worker), and
// then anything but a reachable Redis is an error. Otherwise asking for redis
// without a client falls back to memory, which only suits a single replica.
func BuildSessionStore(cfg *appconfig.Config, redisClient *redis.Client, requireShared bool, logger *logging.Logger) (session.Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if requireShared && (cfg.SessionBackend != "redis" || redisClient == nil) {
		return nil, fmt.Errorf("bootstrap: sessions are shared with the workflow worker; SESSION_BACKEND=redis with a reachable REDIS_ADDR is required")
	}
	if cfg.SessionBackend == "redis" {
		if redisClient != nil {
			logger.Info("session store: redis", "ttl", cfg.SessionTTL)
			return session.NewRedisStore(redisClient, cfg.SessionTTL), nil
		}
		logger.Warn("SESSION_BACKEND=redis but redis is unavailable; using memory store")
	}
	logger.Info("session store: memory", "ttl", cfg.SessionTTL)
	return session.NewMemoryStore(cfg.SessionTTL), nil
}

// BuildTranscriptStore returns the Redis transcript store when Redis is
// available and an in-process one otherwise.
func BuildTranscriptStore(cfg *appconfig.Config, redisClient *redis.Client) webchat.TranscriptStore {
	if store := webchat.NewRedisTranscriptStore(redisClient, cfg.SessionTTL); store != nil {
		return store
	}
	return webchat.NewMemoryTranscriptStore()
}
