package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration actions accepted by RunMigration.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateDrop    = "drop"
	MigrateVersion = "version"
)

// MigrationStatus reports the schema version after RunMigration.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending up migration.
func Migrate(dsn string) error {
	_, err := RunMigration(MigrateUp, dsn)
	return err
}

// RunMigration executes one migration action against dsn.
func RunMigration(action, dsn string) (MigrationStatus, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	switch action {
	case MigrateUp:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, err
		}
	case MigrateDown:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, err
		}
	case MigrateDrop:
		return MigrationStatus{}, m.Drop()
	case MigrateVersion:
	default:
		return MigrationStatus{}, fmt.Errorf("unsupported action %q", action)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Version: version, Dirty: dirty, Applied: true}, nil
}
