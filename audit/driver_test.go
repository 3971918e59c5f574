package audit

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/linkaudit/am"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/internal/httpclient"
	"github.com/teranos/linkaudit/tracker"
	"github.com/teranos/linkaudit/tracker/trackertest"
)

const testQuery = "SELECT [System.Id] FROM WorkItems"

func newTestDriver(t *testing.T, srv *trackertest.Server, batchSize int) (*Driver, *recordingSleep) {
	t.Helper()
	return newClientDriver(t, srv.NewClient(t), batchSize)
}

func newClientDriver(t *testing.T, client Tracker, batchSize int) (*Driver, *recordingSleep) {
	t.Helper()
	sleeper := &recordingSleep{}
	d := NewDriver(
		func() (Tracker, error) { return client, nil },
		Options{WorkItemType: "Task", Query: testQuery, BatchSize: batchSize, BatchDelay: DefaultBatchDelay},
		nil,
		zaptest.NewLogger(t).Sugar(),
		WithSleep(sleeper.sleep),
	)
	return d, sleeper
}

func addItems(srv *trackertest.Server, ids []int, relations ...string) {
	for _, id := range ids {
		srv.Add(trackertest.Item{ID: id, Title: "item", State: "Active", Relations: relations})
	}
}

func TestRun_AllParented(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{1, 2, 3}, trackertest.RelParent)
	d, _ := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalScanned)
	assert.Empty(t, report.Violators)
	assert.Equal(t, 0, ExitCode(err))

	_, batches := srv.Calls()
	assert.Equal(t, 1, batches)
	assert.Equal(t, StateDone, d.State())
	assert.Equal(t,
		[]State{StateStart, StateQuerying, StateFetching, StateClassifying, StateReporting, StateDone},
		d.Transitions())
}

func TestRun_EmptyRelationsAreViolators(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{40, 41}, trackertest.RelParent)
	srv.Add(trackertest.Item{ID: 42, Title: "orphan", State: "New", Relations: []string{}})
	addItems(srv, []int{43, 44}, trackertest.RelChild, trackertest.RelParent)
	d, _ := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalScanned)
	require.Len(t, report.Violators, 1)
	v := report.Violators[0]
	assert.Equal(t, 42, v.ItemID)
	assert.Equal(t, "orphan", v.Title)
	assert.Equal(t, "New", v.State)
	assert.Equal(t, srv.URL+"/contoso/Fabrikam%20Fiber/_workitems/edit/42", v.WebURL)
}

func TestRun_BatchesOf200(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, seq(1, 250), trackertest.RelParent)
	d, sleeper := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, srv.BatchCalls, 2)
	assert.Len(t, srv.BatchCalls[0], 200)
	assert.Len(t, srv.BatchCalls[1], 50)
	assert.Equal(t, []time.Duration{DefaultBatchDelay}, sleeper.delays)
	assert.Equal(t, 250, report.TotalScanned)
	assert.Equal(t, 2, report.Batches)
}

func TestRun_QueryFailure(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{1, 2, 3})
	srv.FailQuery(http.StatusInternalServerError)
	d, _ := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsQueryError(err))
	assert.Equal(t, 1, ExitCode(err))

	queries, batches := srv.Calls()
	assert.Equal(t, 1, queries)
	assert.Zero(t, batches, "no batch call after a failed query")
	assert.Equal(t, StateFailed, d.State())
	assert.Equal(t, []State{StateStart, StateQuerying, StateFailed}, d.Transitions())
}

func TestRun_FailedBatchIsSkipped(t *testing.T) {
	srv := trackertest.NewServer(t)
	srv.Add(
		trackertest.Item{ID: 1, Relations: []string{trackertest.RelParent}},
		trackertest.Item{ID: 2},
		trackertest.Item{ID: 3},
		trackertest.Item{ID: 4},
		trackertest.Item{ID: 5, Relations: []string{trackertest.RelRelated}},
		trackertest.Item{ID: 6, Relations: []string{trackertest.RelParent}},
	)
	srv.FailBatch(2, http.StatusServiceUnavailable)
	d, _ := newTestDriver(t, srv, 2)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ExitCode(err))

	_, batches := srv.Calls()
	assert.Equal(t, 3, batches)
	assert.Equal(t, []int{2, 5}, report.ViolatorIDs(), "items 3 and 4 were never classified")
	require.Len(t, report.SkippedBatches, 1)
	assert.Equal(t, 2, report.SkippedBatches[0].Index)
	assert.Equal(t, 6, report.TotalScanned)
	assert.Equal(t, 4, report.Classified)
	assert.Equal(t, 2, report.Unclassified)
	assert.False(t, report.Complete())
}

// timeoutClient gives up on the fake well before a delayed response arrives
func timeoutClient(t *testing.T, srv *trackertest.Server) *tracker.Client {
	t.Helper()
	client, err := tracker.NewClient(srv.Config(),
		httpclient.WrapClient(&http.Client{Timeout: 100 * time.Millisecond}), nil)
	require.NoError(t, err)
	return client
}

func TestRun_BatchTimeoutIsSkipped(t *testing.T) {
	srv := trackertest.NewServer(t)
	srv.Add(
		trackertest.Item{ID: 1},
		trackertest.Item{ID: 2},
		trackertest.Item{ID: 3, Relations: []string{trackertest.RelParent}},
	)
	srv.DelayBatch(1, 300*time.Millisecond)
	d, _ := newClientDriver(t, timeoutClient(t, srv), 1)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ExitCode(err))
	assert.Equal(t, StateDone, d.State())

	require.Len(t, report.SkippedBatches, 1)
	skipped := report.SkippedBatches[0]
	assert.Equal(t, 1, skipped.Index)
	assert.Equal(t, []int{1}, skipped.ItemIDs)
	assert.True(t, errors.IsBatchFetchError(skipped.Err))
	assert.True(t, errors.Is(skipped.Err, errors.ErrTimeout))

	assert.Equal(t, []int{2}, report.ViolatorIDs())
	assert.Equal(t, 3, report.TotalScanned)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.Unclassified)
	assert.False(t, report.Complete())
}

func TestRun_QueryTimeoutFails(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{1, 2})
	srv.SetDelay(300 * time.Millisecond)
	d, _ := newClientDriver(t, timeoutClient(t, srv), MaxBatchSize)

	report, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsQueryError(err))
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Equal(t, 1, ExitCode(err))
	assert.Equal(t, []State{StateStart, StateQuerying, StateFailed}, d.Transitions())

	_, batches := srv.Calls()
	assert.Zero(t, batches)
}

func TestRun_ItemMissingFromBatchIsUnclassified(t *testing.T) {
	plainOutput(t)

	srv := trackertest.NewServer(t)
	srv.Add(
		trackertest.Item{ID: 1, Relations: []string{trackertest.RelParent}},
		trackertest.Item{ID: 2, Title: "orphan"},
	)
	srv.SetQueryOrder(1, 2, 3)
	d, _ := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalScanned)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.Unclassified)
	assert.Equal(t, report.TotalScanned, report.Classified+report.Unclassified)
	assert.Equal(t, []int{3}, report.MissingItems)
	assert.Empty(t, report.SkippedBatches)
	assert.Equal(t, []int{2}, report.ViolatorIDs())
	assert.False(t, report.Complete())

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf, RenderOptions{}))
	assert.Contains(t, buf.String(), "results are incomplete")
	assert.Contains(t, buf.String(), "1 items not returned by the tracker")
}

func TestRun_Idempotent(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, seq(1, 5), trackertest.RelParent)
	addItems(srv, seq(6, 5))

	first, _ := newTestDriver(t, srv, 3)
	second, _ := newTestDriver(t, srv, 3)

	a, err := first.Run(context.Background())
	require.NoError(t, err)
	b, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, []int{6, 7, 8, 9, 10}, a.ViolatorIDs())
}

func TestRun_NoResults(t *testing.T) {
	srv := trackertest.NewServer(t)
	d, sleeper := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.TotalScanned)
	assert.Empty(t, report.Violators)
	_, batches := srv.Calls()
	assert.Zero(t, batches)
	assert.Empty(t, sleeper.delays)
}

func TestRun_DuplicateReferences(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{1, 2})
	srv.SetQueryOrder(1, 2, 1, 2)
	d, _ := newTestDriver(t, srv, MaxBatchSize)

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalScanned)
	assert.Equal(t, []int{1, 2}, report.ViolatorIDs())
}

func TestRun_MissingToken(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{1})

	cfg := testConfig(srv)
	cfg.Tracker.Token = ""
	d := NewDriver(ConfigConnector(cfg, nil), OptionsFromConfig(cfg), nil, zaptest.NewLogger(t).Sugar())

	report, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsConfigError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.Equal(t, 1, ExitCode(err))
	assert.Equal(t, []State{StateStart, StateFailed}, d.Transitions())

	queries, batches := srv.Calls()
	assert.Zero(t, queries, "config errors are caught before any network call")
	assert.Zero(t, batches)
}

func TestRun_ConnectorErrorIsConfigError(t *testing.T) {
	d := NewDriver(
		func() (Tracker, error) { return nil, errors.New("boom") },
		Options{Query: testQuery},
		nil, nil,
	)

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestRun_EmptyQuery(t *testing.T) {
	called := false
	connect := func() (Tracker, error) {
		called = true
		return nil, nil
	}
	d := NewDriver(connect, Options{}, nil, nil)

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.False(t, called)
}

func TestRun_FromConfig(t *testing.T) {
	srv := trackertest.NewServer(t)
	addItems(srv, []int{10, 11}, trackertest.RelParent)
	srv.Add(trackertest.Item{ID: 12, Title: "loose end"})

	cfg := testConfig(srv)
	d := NewDriver(ConfigConnector(cfg, nil), OptionsFromConfig(cfg), nil, zaptest.NewLogger(t).Sugar(),
		WithSleep((&recordingSleep{}).sleep))

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{12}, report.ViolatorIDs())

	require.Len(t, srv.Queries, 1)
	assert.Contains(t, srv.Queries[0], "[System.TeamProject] = 'Fabrikam Fiber'")
	assert.Contains(t, srv.Queries[0], "[System.WorkItemType] = 'Task'")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "querying", StateQuerying.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func testConfig(srv *trackertest.Server) *am.Config {
	tc := srv.Config()
	return &am.Config{
		Tracker: am.TrackerConfig{
			BaseURL:        tc.BaseURL,
			Org:            tc.Org,
			Project:        tc.Project,
			APIVersion:     tc.APIVersion,
			Token:          tc.Token,
			TimeoutSeconds: 5,
			BlockPrivateIP: false,
		},
		Audit: am.AuditConfig{
			WorkItemType: "Task",
			BatchSize:    am.MaxBatchSize,
			BatchDelayMS: am.MinBatchDelayMS,
			TitleWidth:   am.DefaultTitleWidth,
		},
	}
}
