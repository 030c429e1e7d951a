package sqlite

import (
	"errors"

	"github.com/aussiebroadwan/rollcall/internal/auth/store/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrator builds a golang-migrate instance over the store's own *sql.DB and
// the embedded migration files. It is never Closed: that would close the DB.
func (m *Store) migrator() (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(m.db, &sqlite.Config{})
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return nil, err
	}

	return migrate.NewWithInstance("iofs", source, "", driver)
}

// ApplyMigrations applies any pending up migrations. Running it on an
// up-to-date database is a no-op.
func (m *Store) ApplyMigrations() error {
	instance, err := m.migrator()
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrationVersion reports the current schema version and whether the last
// migration left the database dirty. Version 0 means nothing is applied.
func (m *Store) MigrationVersion() (uint, bool, error) {
	instance, err := m.migrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := instance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
