package storage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Schema versions of the embedded migrations.
const (
	// CardDataSchema creates cards, their child tables and sets.
	CardDataSchema uint = 1
	// UserDataSchema adds the library, tags and want lists.
	UserDataSchema uint = 2

	// SchemaVersion is the version a fully migrated vault reports.
	SchemaVersion = UserDataSchema
)

var (
	// ErrSchemaTooNew indicates a vault written by a newer build.
	ErrSchemaTooNew = errors.New("database schema is newer than this build")

	// ErrSchemaDirty indicates a migration failed halfway. The schema has to
	// be repaired and marked with Force before migrating again.
	ErrSchemaDirty = errors.New("database schema is dirty")
)

// MigrationManager handles database schema migrations.
type MigrationManager struct {
	migrate *migrate.Migrate
}

// NewMigrationManager creates a new migration manager.
// The dbPath should be a file path to the SQLite database.
func NewMigrationManager(dbPath string) (*MigrationManager, error) {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to access migrations directory: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsDir, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	// sqlite:// URLs need forward slashes and a leading slash on Windows.
	normalizedPath := filepath.ToSlash(dbPath)
	if filepath.IsAbs(dbPath) && normalizedPath[0] != '/' {
		normalizedPath = "/" + normalizedPath
	}
	databaseURL := fmt.Sprintf("sqlite://%s", normalizedPath)

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return &MigrationManager{migrate: m}, nil
}

// Up applies all pending migrations and checks that the vault ends at
// SchemaVersion. A vault from a newer build or one left dirty by a failed
// migration is refused before anything runs.
func (mm *MigrationManager) Up() error {
	version, dirty, err := mm.Version()
	if err != nil {
		return err
	}
	if err := checkSchema(version, dirty); err != nil {
		return err
	}

	err = mm.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err = mm.Version()
	if err != nil {
		return err
	}
	if err := checkSchema(version, dirty); err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema at version %d after migrating, want %d", version, SchemaVersion)
	}
	return nil
}

// Pending returns the number of embedded migrations not yet applied.
func (mm *MigrationManager) Pending() (uint, error) {
	version, dirty, err := mm.Version()
	if err != nil {
		return 0, err
	}
	if err := checkSchema(version, dirty); err != nil {
		return 0, err
	}
	return SchemaVersion - version, nil
}

func checkSchema(version uint, dirty bool) error {
	if dirty {
		return fmt.Errorf("version %d: %w", version, ErrSchemaDirty)
	}
	if version > SchemaVersion {
		return fmt.Errorf("version %d, supported %d: %w", version, SchemaVersion, ErrSchemaTooNew)
	}
	return nil
}

// Down rolls back the last applied migration. From SchemaVersion this drops
// the user data tables and leaves the card data in place.
func (mm *MigrationManager) Down() error {
	err := mm.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// Version returns the current migration version and dirty state.
func (mm *MigrationManager) Version() (version uint, dirty bool, err error) {
	version, dirty, err = mm.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force marks the schema as version without running migrations and clears
// the dirty flag.
func (mm *MigrationManager) Force(version int) error {
	if err := mm.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close closes the migration manager and releases resources.
func (mm *MigrationManager) Close() error {
	srcErr, dbErr := mm.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("failed to close source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
