package storage

import (
	"context"
	"fmt"

	"dropbot/internal/config"
)

// Open builds a Store for the configured driver and runs migrations.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "dropbot.db"
		}
		return openSQLite(ctx, path, cfg.BusyTimeoutDuration())
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage: postgres driver requires dsn")
		}
		return openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
