// Package db opens the run history database and applies its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/linkaudit/errors"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database
const SQLiteBusyTimeoutMS = 5000

// Open opens a SQLite database at the specified path with WAL, foreign keys
// and a busy timeout. If logger is provided, logs database operations;
// otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := configure(db, path); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

var pragmas = []struct {
	stmt string
	what string
}{
	// WAL allows concurrent reads during writes
	{"PRAGMA journal_mode = WAL", "enable WAL mode"},
	{"PRAGMA foreign_keys = ON", "enable foreign keys"},
	{fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS), "set busy timeout"},
}

// configure applies the connection pragmas in order. db is closed when one fails.
func configure(db *sql.DB, path string) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return errors.Wrapf(err, "failed to %s on %s", p.what, path)
		}
	}
	return nil
}

// OpenWithMigrations opens the database and brings its schema up to date
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open history database")
	}
	applied, err := Migrate(db, logger)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "migrate history database %s", path)
	}
	if logger != nil && len(applied) > 0 {
		logger.Infow("History schema migrated", "path", path, "versions", applied)
	}
	return db, nil
}
