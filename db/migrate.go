package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one schema step, named NNN_description.sql
type migration struct {
	version string
	file    string
	sql     string
}

// Migrate applies every embedded migration the database has not recorded
// and returns the versions it applied, oldest first. Each migration runs in
// its own transaction together with its schema_migrations row.
func Migrate(db *sql.DB, log *zap.SugaredLogger) ([]string, error) {
	steps, err := loadMigrations(migrations, migrationsDir)
	if err != nil {
		return nil, err
	}

	done, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range steps {
		if done[m.version] {
			continue
		}
		if log != nil {
			log.Infow("Applying migration", logger.FieldPath, m.file, logger.FieldVersion, m.version)
		}
		if err := apply(db, m); err != nil {
			return applied, err
		}
		applied = append(applied, m.version)
	}

	if log != nil {
		log.Debugw("Schema up to date",
			logger.FieldTotalCount, len(steps),
			logger.FieldCount, len(applied),
		)
	}
	return applied, nil
}

// loadMigrations reads dir from fsys in version order. Versions must be
// numeric and unique.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	seen := make(map[string]string)
	var steps []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := migrationVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if other, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %s", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", entry.Name())
		}
		steps = append(steps, migration{version: version, file: entry.Name(), sql: string(body)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// migrationVersion extracts the numeric prefix of NNN_description.sql
func migrationVersion(file string) (string, error) {
	version, _, ok := strings.Cut(file, "_")
	if !ok || version == "" {
		return "", errors.Newf("migration %s has no version prefix", file)
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", errors.Newf("migration %s has non-numeric version %q", file, version)
		}
	}
	return version, nil
}

// appliedVersions returns recorded versions; a fresh database has none
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var tables int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&tables)
	if err != nil {
		return nil, errors.Wrap(err, "check migration state")
	}

	done := make(map[string]bool)
	if tables == 0 {
		return done, nil
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "read schema_migrations")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "read schema_migrations")
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.file)
	}
	if _, err := tx.Exec(m.sql); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.file)
	}
	// 000 creates schema_migrations, then records itself here
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}
