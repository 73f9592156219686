package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

const (
	sqliteDbFile = "appdata.sqlite.db"
	driverName   = "sqlite"
)

// OpenDb opens (and creates if needed) the sqlite db file under baseDir and
// applies any pending migrations from migrationPath, a go-migrate source URL
// like "file://path/to/migration".
func OpenDb(baseDir, migrationPath string) (*sql.DB, error) {
	dbFile := filepath.Join(baseDir, sqliteDbFile)
	db, err := openDb(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %s", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrationPath,
		"gloam-sdk.db",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %s", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %s", err)
	}

	return db, nil
}

func openDb(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	db.SetMaxOpenConns(1)

	return db, nil
}

func execTx(ctx context.Context, db *sql.DB, txBody func(*sql.Tx) error) error {
	dbTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// nolint:all
	defer dbTx.Rollback()

	if err := txBody(dbTx); err != nil {
		return err
	}

	return dbTx.Commit()
}
