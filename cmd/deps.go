package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/credential"
	"github.com/vibast-solutions/ms-go-stats-gateway/config"
)

const connectTimeout = 5 * time.Second

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// openRedis does not require the server to be reachable: quota failures are
// handled by the configured failure policy.
func openRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.ReadTimeout = cfg.Quota.StoreTimeout
	opts.WriteTimeout = cfg.Quota.StoreTimeout
	return redis.NewClient(opts), nil
}

func newCodec(cfg *config.Config) *credential.Codec {
	return credential.NewCodec(cfg.APIKey.Prefix, credential.Params{
		MemoryKiB:   cfg.APIKey.MemoryKiB,
		Time:        cfg.APIKey.Time,
		Parallelism: cfg.APIKey.Parallelism,
	})
}
