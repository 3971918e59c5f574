// Package history records completed audit runs in SQLite so violator counts
// can be compared over time.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/linkaudit/audit"
	"github.com/teranos/linkaudit/db"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/logger"
)

// Run is one recorded audit
type Run struct {
	ID             string         `json:"id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Org            string         `json:"org"`
	Project        string         `json:"project"`
	WorkItemType   string         `json:"work_item_type"`
	TotalScanned   int            `json:"total_scanned"`
	Classified     int            `json:"classified"`
	Unclassified   int            `json:"unclassified"`
	Batches        int            `json:"batches"`
	SkippedBatches int            `json:"skipped_batches"`
	ViolatorCount  int            `json:"violator_count"`
	Violators      []audit.Result `json:"violators,omitempty"`
}

// Meta identifies where and when a run happened
type Meta struct {
	RunID      string // empty = generate one
	Org        string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun captures a report under meta's run id, or a fresh one
func NewRun(report *audit.Report, meta Meta) Run {
	id := meta.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return Run{
		ID:             id,
		StartedAt:      meta.StartedAt.UTC(),
		FinishedAt:     meta.FinishedAt.UTC(),
		Org:            meta.Org,
		Project:        meta.Project,
		WorkItemType:   report.WorkItemType,
		TotalScanned:   report.TotalScanned,
		Classified:     report.Classified,
		Unclassified:   report.Unclassified,
		Batches:        report.Batches,
		SkippedBatches: len(report.SkippedBatches),
		ViolatorCount:  len(report.Violators),
		Violators:      report.Violators,
	}
}

// Store is an explicitly owned handle to the history database. The
// connection is opened on first use, not at construction.
type Store struct {
	path   string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	db     *sql.DB
	opened bool
}

// NewStore returns a store for the database at path without opening it
func NewStore(path string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{path: path, logger: log}
}

// NewStoreWithDB wraps an already open, migrated database
func NewStoreWithDB(conn *sql.DB, log *zap.SugaredLogger) *Store {
	s := NewStore("", log)
	s.db = conn
	s.opened = true
	return s
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		if s.db == nil {
			return nil, db.ErrDatabaseClosed
		}
		return s.db, nil
	}

	conn, err := db.OpenWithMigrations(s.path, s.logger)
	if err != nil {
		return nil, err
	}
	s.db = conn
	s.opened = true
	return conn, nil
}

// Record stores a run and its violators in one transaction
func (s *Store) Record(ctx context.Context, run Run) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin record run")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO audit_runs
		(id, started_at, finished_at, org, project, work_item_type,
		 total_scanned, classified, unclassified, batches, skipped_batches, violator_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Org, run.Project, run.WorkItemType,
		run.TotalScanned, run.Classified, run.Unclassified, run.Batches, run.SkippedBatches, run.ViolatorCount,
	)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}

	for _, v := range run.Violators {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO audit_violations (run_id, item_id, state, title, url) VALUES (?, ?, ?, ?, ?)",
			run.ID, v.ItemID, v.State, v.Title, v.WebURL,
		)
		if err != nil {
			return errors.Wrapf(err, "insert violator %d of run %s", v.ItemID, run.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit run %s", run.ID)
	}

	s.logger.Infow("Recorded audit run",
		logger.FieldRunID, run.ID,
		logger.FieldViolators, run.ViolatorCount,
	)
	return nil
}

// List returns the most recent runs first, without violator rows.
// limit <= 0 returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, started_at, finished_at, org, project, work_item_type,
		total_scanned, classified, unclassified, batches, skipped_batches, violator_count
		FROM audit_runs ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Org, &r.Project, &r.WorkItemType,
			&r.TotalScanned, &r.Classified, &r.Unclassified, &r.Batches, &r.SkippedBatches, &r.ViolatorCount); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return runs, nil
}

// Violators returns the violators recorded for a run, ordered by item id
func (s *Store) Violators(ctx context.Context, runID string) ([]audit.Result, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT item_id, state, title, url FROM audit_violations WHERE run_id = ? ORDER BY item_id", runID)
	if err != nil {
		return nil, errors.Wrapf(err, "list violators of run %s", runID)
	}
	defer rows.Close()

	results := []audit.Result{}
	for rows.Next() {
		r := audit.Result{IsViolator: true}
		if err := rows.Scan(&r.ItemID, &r.State, &r.Title, &r.WebURL); err != nil {
			return nil, errors.Wrap(err, "scan violator")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate violators")
	}
	return results, nil
}

// Close releases the connection if one was opened. The store cannot be
// reused afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
