package main

import (
	"context"
	"fmt"

	"urlwatch/internal/config"
	"urlwatch/internal/storage"
	"urlwatch/internal/storage/memory"
	"urlwatch/internal/storage/postgres"
	"urlwatch/internal/storage/sqlite"
)

// openStore connects to the configured database and applies the schema.
// Tests replace it to share one in-memory store between commands.
var openStore = func(ctx context.Context, db config.DatabaseConfig) (storage.Storer, error) {
	switch db.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, db.URL, postgres.Options{
			CAFile:   db.CAFile,
			MaxConns: int32(db.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.New(ctx, db.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}
