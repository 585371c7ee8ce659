package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	goosedb "github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// Migrate applies all pending migrations for the driver db was opened with.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.SugaredLogger) error {
	var dialect goosedb.Dialect
	switch db.DriverName() {
	case DriverPostgres:
		dialect = goosedb.DialectPostgres
	case DriverSQLite:
		dialect = goosedb.DialectSQLite3
	default:
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}

	migrationFS, err := fs.Sub(embedMigrations, "migrations/"+db.DriverName())
	if err != nil {
		return fmt.Errorf("sub migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db.DB, migrationFS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if logger != nil {
		for _, r := range results {
			logger.Infow("migration applied",
				"version", r.Source.Version,
				"path", r.Source.Path,
				"duration_ms", r.Duration.Milliseconds(),
			)
		}
	}
	return nil
}
