package stores

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reignhq/reign/pkg/config"
	"github.com/reignhq/reign/pkg/state"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// OpenBackend opens the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (state.Backend, error) {
	storeCfg := Config{
		Path:        cfg.Path,
		InMemory:    cfg.InMemory,
		BusyTimeout: cfg.BusyTimeout,
		SyncWrites:  cfg.SyncWrites,
		Logger:      logger,
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, storeCfg)
	case DriverBadger:
		return OpenBadger(ctx, storeCfg)
	default:
		return nil, state.NewStorageError(fmt.Sprintf("unknown storage driver %q", cfg.Driver), nil)
	}
}
