package bootstrap

import (
	"context"
	"fmt"
	"strings"

	domain "herald/internal/domain/reminder"
	"herald/internal/infra/storage/memory"
	"herald/internal/infra/storage/postgres"
	"herald/internal/infra/storage/sqlite"
	"herald/internal/shared/config"
	"herald/internal/shared/logging"
)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// OpenRepository opens the repository selected by cfg.Driver. The returned
// close func releases the underlying connection pool and is never nil.
func OpenRepository(ctx context.Context, cfg config.StorageConfig, logger logging.Logger) (domain.Repository, func(), error) {
	logger = logging.OrNop(logger)
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.StorageDriverPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		repo, err := postgres.New(pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("Using postgres reminder storage")
		return repo, pool.Close, nil
	case config.StorageDriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		repo, err := sqlite.New(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		logger.Info("Using sqlite reminder storage at %s", cfg.SQLitePath)
		return repo, func() { _ = db.Close() }, nil
	case config.StorageDriverMemory, "":
		logger.Warn("Using in-memory reminder storage; reminders are lost on restart")
		return memory.New(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// EnsureSchema creates the tables of repo when it manages a schema.
func EnsureSchema(ctx context.Context, repo domain.Repository) error {
	ensurer, ok := repo.(schemaEnsurer)
	if !ok {
		return nil
	}
	if err := ensurer.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Migrate opens the configured storage and creates its schema.
func Migrate(ctx context.Context, cfg config.StorageConfig, logger logging.Logger) error {
	repo, closeRepo, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()
	return EnsureSchema(ctx, repo)
}
