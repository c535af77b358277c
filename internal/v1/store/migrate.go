package store

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending schema migrations on startup.
func RunMigrations(databaseURL string) error {
	ctx := context.Background()
	logging.Info(ctx, "running database migrations")

	source, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logging.Info(ctx, "database schema is up to date")
			return nil
		}
		return err
	}

	version, dirty, _ := m.Version()
	logging.Info(ctx, "migrations completed", zap.Uint("version", version), zap.Bool("dirty", dirty))

	return nil
}
