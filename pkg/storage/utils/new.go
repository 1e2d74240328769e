// Package storageutils opens the transcript storage driver selected by
// configuration.
package storageutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/chatstream/pkg/dotdir"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/storage/inmemory"
	"github.com/papercomputeco/chatstream/pkg/storage/postgres"
	"github.com/papercomputeco/chatstream/pkg/storage/sqlite"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NewDriverOpts selects and configures a storage driver.
type NewDriverOpts struct {
	// Driver is one of DriverMemory, DriverSQLite or DriverPostgres. Empty
	// selects DriverSQLite when SQLitePath is set, else DriverMemory.
	Driver string

	// SQLitePath defaults to chatstream.db in the resolved .chatstream dir.
	SQLitePath string

	PostgresDSN string

	// ConfigDir overrides .chatstream dir resolution.
	ConfigDir string

	Logger *slog.Logger
}

// NewDriver opens the configured driver.
func NewDriver(ctx context.Context, o *NewDriverOpts) (storage.Driver, error) {
	log := o.Logger
	if log == nil {
		log = logger.Nop()
	}

	kind := o.Driver
	if kind == "" {
		kind = DriverMemory
		if o.SQLitePath != "" {
			kind = DriverSQLite
		}
	}

	switch kind {
	case DriverMemory:
		log.Info("using in-memory transcript storage")
		return inmemory.NewDriver(), nil

	case DriverSQLite:
		path := o.SQLitePath
		if path == "" {
			var err error
			path, err = dotdir.NewManager().DatabasePath(o.ConfigDir)
			if err != nil {
				return nil, fmt.Errorf("resolving sqlite path: %w", err)
			}
		}
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		log.Info("using SQLite transcript storage", "path", path)
		return driver, nil

	case DriverPostgres:
		if o.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires a connection string (--postgres)")
		}
		driver, err := postgres.NewDriver(ctx, o.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}
		log.Info("using PostgreSQL transcript storage")
		return driver, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q (want %s, %s or %s)",
			kind, DriverMemory, DriverSQLite, DriverPostgres)
	}
}
