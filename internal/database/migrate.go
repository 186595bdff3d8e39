package database

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration embedded under migrations/.
func Migrate(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	return migrateDSN(cfg.ConnectionString())
}

// MigrateDSN applies every pending migration against a raw libpq-style DSN,
// for callers (e.g. cmd/incidentcore) that hold a connection string rather
// than a structured Config.
func MigrateDSN(dsn string) error {
	return migrateDSN(dsn)
}

func migrateDSN(dsn string) error {
	db, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
