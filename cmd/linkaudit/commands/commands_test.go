package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/linkaudit/am"
	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/history"
	"github.com/teranos/linkaudit/tracker/trackertest"
)

// isolatedConfig points configuration at srv and away from real config files
func isolatedConfig(t *testing.T, srv *trackertest.Server) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	tc := srv.Config()
	t.Setenv("LINKAUDIT_TRACKER_BASE_URL", tc.BaseURL)
	t.Setenv("LINKAUDIT_TRACKER_ORG", tc.Org)
	t.Setenv("LINKAUDIT_TRACKER_PROJECT", tc.Project)
	t.Setenv("LINKAUDIT_TRACKER_TOKEN", tc.Token)
	t.Setenv("LINKAUDIT_TRACKER_BLOCK_PRIVATE_IP", "false")
	t.Setenv("LINKAUDIT_OUTPUT", "")

	am.Reset()
	t.Cleanup(am.Reset)
	return dir
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestApplyAuditFlags(t *testing.T) {
	cmd := NewAuditCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--type", "Bug", "--area", `Fabrikam\Web`, "--exclude-state", "Closed,Removed",
		"--batch-size", "50", "--delay", "500", "--record",
	}))

	cfg := &am.Config{Audit: am.AuditConfig{WorkItemType: "Task", BatchSize: 200, BatchDelayMS: 300, TitleWidth: 60}}
	applyAuditFlags(cmd, cfg)

	assert.Equal(t, "Bug", cfg.Audit.WorkItemType)
	assert.Equal(t, `Fabrikam\Web`, cfg.Audit.AreaPath)
	assert.Equal(t, []string{"Closed", "Removed"}, cfg.Audit.ExcludeStates)
	assert.Equal(t, 50, cfg.Audit.BatchSize)
	assert.Equal(t, 500, cfg.Audit.BatchDelayMS)
	assert.Equal(t, 60, cfg.Audit.TitleWidth, "unset flags leave config alone")
	assert.True(t, cfg.History.Enabled)
}

func TestAudit_TextReport(t *testing.T) {
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)

	srv := trackertest.NewServer(t)
	srv.Add(
		trackertest.Item{ID: 1, Title: "parented", State: "Active", Relations: []string{trackertest.RelParent}},
		trackertest.Item{ID: 2, Title: "orphan", State: "New"},
	)
	isolatedConfig(t, srv)

	stdout, stderr, err := execute(t, NewAuditCmd())
	require.NoError(t, err)

	assert.Contains(t, stdout, "Scanned 2 Task items, 2 classified: 1 without a parent link")
	assert.Contains(t, stdout, "orphan")
	assert.NotContains(t, stdout, "parented")
	assert.Contains(t, stderr, "batch 1/1")
}

func TestAudit_JSONReport(t *testing.T) {
	srv := trackertest.NewServer(t)
	srv.Add(trackertest.Item{ID: 9, Relations: []string{}})
	isolatedConfig(t, srv)

	stdout, _, err := execute(t, NewAuditCmd(), "--json")
	require.NoError(t, err)

	var report struct {
		TotalScanned int `json:"total_scanned"`
		Violators    []struct {
			ID    int    `json:"id"`
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"violators"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 1, report.TotalScanned)
	require.Len(t, report.Violators, 1)
	assert.Equal(t, 9, report.Violators[0].ID)
	assert.Equal(t, "(no title)", report.Violators[0].Title)
	assert.Contains(t, report.Violators[0].URL, "/_workitems/edit/9")
}

func TestAudit_QueryFailure(t *testing.T) {
	srv := trackertest.NewServer(t)
	srv.FailQuery(http.StatusInternalServerError)
	isolatedConfig(t, srv)

	stdout, _, err := execute(t, NewAuditCmd())
	require.Error(t, err)
	assert.True(t, errors.IsQueryError(err))
	assert.Empty(t, stdout)

	_, batches := srv.Calls()
	assert.Zero(t, batches)
}

func TestAudit_MissingToken(t *testing.T) {
	srv := trackertest.NewServer(t)
	isolatedConfig(t, srv)
	t.Setenv("LINKAUDIT_TRACKER_TOKEN", "")
	t.Setenv("AZURE_DEVOPS_PAT", "")
	t.Setenv("AZDO_PAT", "")

	_, _, err := execute(t, NewAuditCmd())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	queries, _ := srv.Calls()
	assert.Zero(t, queries)
}

func TestAudit_Record(t *testing.T) {
	srv := trackertest.NewServer(t)
	srv.Add(trackertest.Item{ID: 3, Title: "loose"})
	dir := isolatedConfig(t, srv)
	dbPath := filepath.Join(dir, "runs.db")
	t.Setenv("LINKAUDIT_HISTORY_PATH", dbPath)

	_, _, err := execute(t, NewAuditCmd(), "--record", "--json")
	require.NoError(t, err)

	store := history.NewStore(dbPath, nil)
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ViolatorCount)
	assert.Equal(t, "contoso", runs[0].Org)
}

func TestMarshalConfig(t *testing.T) {
	cfg := am.Config{Tracker: am.TrackerConfig{Org: "contoso", Token: "secret"}}.Redacted()

	for _, format := range []string{"toml", "json", "yaml"} {
		data, err := marshalConfig(cfg, format)
		require.NoError(t, err, format)
		assert.Contains(t, string(data), "contoso", format)
		assert.NotContains(t, string(data), "secret", format)
	}

	_, err := marshalConfig(cfg, "xml")
	assert.Error(t, err)
}
