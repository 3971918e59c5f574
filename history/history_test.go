package history

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/linkaudit/audit"
	"github.com/teranos/linkaudit/db"
	"github.com/teranos/linkaudit/errors"
)

func sampleReport() *audit.Report {
	return &audit.Report{
		WorkItemType:   "Task",
		TotalScanned:   6,
		Classified:     4,
		Unclassified:   2,
		Batches:        3,
		SkippedBatches: []audit.SkippedBatch{{Index: 2, ItemIDs: []int{3, 4}}},
		Violators: []audit.Result{
			{ItemID: 5, Title: "five", State: "New", WebURL: "https://t/5", IsViolator: true},
			{ItemID: 2, Title: "two", State: "Active", WebURL: "https://t/2", IsViolator: true},
		},
	}
}

func sampleMeta(started time.Time) Meta {
	return Meta{Org: "contoso", Project: "Fabrikam Fiber", StartedAt: started, FinishedAt: started.Add(2 * time.Second)}
}

func TestNewRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := NewRun(sampleReport(), sampleMeta(started))

	_, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task", run.WorkItemType)
	assert.Equal(t, 6, run.TotalScanned)
	assert.Equal(t, 1, run.SkippedBatches)
	assert.Equal(t, 2, run.ViolatorCount)
	assert.Equal(t, started, run.StartedAt)

	other := NewRun(sampleReport(), sampleMeta(started))
	assert.NotEqual(t, run.ID, other.ID)
}

func TestStore_RecordAndList(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t).Sugar())
	defer store.Close()
	ctx := context.Background()

	first := NewRun(sampleReport(), sampleMeta(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	second := NewRun(&audit.Report{WorkItemType: "Task", TotalScanned: 3, Classified: 3, Batches: 1},
		sampleMeta(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))

	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, 2, runs[1].ViolatorCount)
	assert.Equal(t, "Fabrikam Fiber", runs[1].Project)
	assert.True(t, first.StartedAt.Equal(runs[1].StartedAt))

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)

	violators, err := store.Violators(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, violators, 2)
	assert.Equal(t, 2, violators[0].ItemID)
	assert.Equal(t, "https://t/5", violators[1].WebURL)
	assert.True(t, violators[0].IsViolator)
}

func TestStore_OpensLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "missing", "history.db")
	store := NewStore(path, nil)

	// Construction never touches the filesystem; the first call reports the failure
	_, err := store.List(context.Background(), 0)
	require.Error(t, err)
}

func TestStore_ClosedStore(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, store.Close())

	_, err := store.List(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, db.IsDatabaseClosed(err))
}

func TestStore_RecordRollsBackOnViolatorFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	run := NewRun(sampleReport(), sampleMeta(time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_runs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_violations")).
		WithArgs(run.ID, 5, "New", "five", "https://t/5").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store := NewStoreWithDB(conn, nil)
	err = store.Record(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert violator 5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListQueryError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_runs")).
		WithArgs(5).
		WillReturnError(errors.New("no such table: audit_runs"))

	_, err = NewStoreWithDB(conn, nil).List(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
