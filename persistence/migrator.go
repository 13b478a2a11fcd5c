// Package persistence implements GORM-backed storage for project execution state
// and facts, migrated via golang-migrate across the postgres/sqlite dialect pair.
package persistence

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Dialect names the backing database for migration driver selection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Migrate applies every pending up-migration for dialect against db's underlying
// connection.
func Migrate(db *gorm.DB, dialect Dialect) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to obtain sql.DB from gorm: %w", err)
	}

	var dbDriver database.Driver
	var fsys fs.FS
	var path string

	switch dialect {
	case DialectPostgres:
		dbDriver, err = postgres.WithInstance(sqlDB, &postgres.Config{})
		fsys, path = postgresMigrations, "migrations/postgres"
	case DialectSQLite:
		dbDriver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
		fsys, path = sqliteMigrations, "migrations/sqlite"
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration database driver: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(dialect), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
