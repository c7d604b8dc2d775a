package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/config"
)

// Open builds the Store selected by cfg. The returned close function releases
// any connection pool and is never nil.
func Open(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), func() {}, nil
	case "postgres":
	default:
		return nil, nil, fmt.Errorf("audit: unknown driver %q", cfg.Driver)
	}

	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, nil, fmt.Errorf("audit: environment variable %s is not set", cfg.DSNEnv)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("audit: ping database: %w", err)
	}

	if cfg.Migrate {
		if err := Migrate(pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	return NewPgStore(pool), pool.Close, nil
}
