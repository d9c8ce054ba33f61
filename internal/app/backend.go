package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/cache"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/db"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// KeyStore tracks idempotency keys.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Backend holds the storage and Redis handles shared by the server and the
// worker. Redis is nil when REDIS_ADDR is empty.
type Backend struct {
	Store       stock.Store
	Audit       AuditRecorder
	Idempotency KeyStore
	Redis       redis.UniversalClient

	closers []func()
}

// OpenBackend connects the configured store driver and Redis.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.Store = stock.NewPGStore(pool)
		b.Audit = shared.NewAuditLogger(pool)
		b.Idempotency = shared.NewIdempotencyStore(pool)
	case StoreDriverMemory:
		logger.Warn("memory store driver: stock is not persisted")
		b.Store = stock.NewMemoryStore()
		b.Audit = &shared.MemoryAuditLog{}
		b.Idempotency = shared.NewMemoryIdempotency()
	default:
		return nil, errors.New("app: unknown store driver " + cfg.StoreDriver)
	}

	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR empty: allocation locks and summary cache are disabled")
		return b, nil
	}
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Redis = client
	b.closers = append(b.closers, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	})
	return b, nil
}

// RedisOpt returns the asynq connection options for cfg.
func RedisOpt(cfg *Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
