package persistence

import (
	"context"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	sqlassets "github.com/zenGate-Global/tenantgate/database"
)

// MigrationSet selects the embedded migrations for a database kind.
type MigrationSet string

const (
	LandlordMigrations MigrationSet = sqlassets.LandlordDir
	TenantMigrations   MigrationSet = sqlassets.TenantDir
)

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate applies every pending migration of set to the database at dsn.
func Migrate(ctx context.Context, dsn string, set MigrationSet) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(sqlassets.Migrations)
	defer goose.SetBaseFS(nil)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, string(set)); err != nil {
		return fmt.Errorf("run %s migrations: %w", set, err)
	}
	return nil
}

// MigrationVersion reports the current schema version of the database at dsn.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("open migration db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
