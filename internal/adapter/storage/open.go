package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rl1809/folk-trade/internal/config"
	"github.com/rl1809/folk-trade/internal/port"
)

// Open connects the store selected by cfg.Driver and applies the schema when
// cfg.Migrate is set. The caller owns the returned store and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (port.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var store port.Store
	switch cfg.Driver {
	case config.DriverMySQL:
		db, err := OpenMySQL(ctx, cfg.MySQLDSN, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		store = NewMySQLAdapter(db, logger)
	case config.DriverPostgres:
		db, err := OpenPostgres(ctx, cfg.PostgresDSN, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		store = NewPostgresAdapter(db, logger)
	case config.DriverMemory:
		store = NewMemoryAdapter()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	logger.Info("store connected", "driver", cfg.Driver)

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.Driver, err)
		}
		logger.Info("schema applied", "driver", cfg.Driver)
	}
	return store, nil
}
