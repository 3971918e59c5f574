// Package tracker is a read-only client for the work tracking service's REST
// API: a WIQL query endpoint that returns item references and a batch work
// item endpoint that returns full records with relations.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/teranos/linkaudit/errors"
	"github.com/teranos/linkaudit/internal/httpclient"
	"github.com/teranos/linkaudit/logger"
	"github.com/teranos/linkaudit/version"
)

var userAgent = version.Get().UserAgent()

// maxErrorBody caps how much of a failed response ends up in the error message
const maxErrorBody = 512

// Config identifies the tracker organization and project to talk to
type Config struct {
	BaseURL    string // e.g. https://dev.azure.com
	Org        string
	Project    string // display name, escaped when placed in paths
	APIVersion string
	Token      string
}

// Client talks to one project of the work tracking service.
// It issues one request at a time per call and never retries.
type Client struct {
	http   *httpclient.SaferClient
	cfg    Config
	logger *zap.SugaredLogger
}

// NewClient creates a tracker client. A missing token is a configuration
// error reported before any request is made.
func NewClient(cfg Config, httpClient *httpclient.SaferClient, log *zap.SugaredLogger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.WithHint(
			errors.NewConfigError("tracker token is not set"),
			"export LINKAUDIT_TRACKER_TOKEN (or AZURE_DEVOPS_PAT)",
		)
	}
	if cfg.Org == "" || cfg.Project == "" {
		return nil, errors.NewConfigError("tracker org and project are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, errors.NewConfigError("invalid tracker base URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = httpclient.NewSaferClient(httpclient.DefaultTimeout)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: log,
	}, nil
}

// QueryWorkItems runs a WIQL query and returns the referenced items in the
// order the tracker returned them. A missing or empty workItems list yields an
// empty slice. Any failure is marked errors.ErrQuery.
func (c *Client) QueryWorkItems(ctx context.Context, wiql string) ([]ItemReference, error) {
	endpoint, err := c.endpoint(url.Values{}, "_apis", "wit", "wiql")
	if err != nil {
		return nil, errors.WrapQuery(err, "build query URL")
	}

	payload, err := json.Marshal(map[string]string{"query": wiql})
	if err != nil {
		return nil, errors.WrapQuery(err, "encode query")
	}

	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, errors.WrapQuery(err, "work item query")
	}

	refs, err := parseQueryResponse(body)
	if err != nil {
		return nil, errors.WrapQuery(err, "work item query")
	}

	c.logger.Debugw("Query complete", logger.FieldCount, len(refs))
	return refs, nil
}

// parseQueryResponse validates the transport shape only: a JSON document with
// an optional workItems array whose entries carry numeric ids.
func parseQueryResponse(body []byte) ([]ItemReference, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed query response: invalid JSON")
	}

	items := gjson.GetBytes(body, "workItems")
	if !items.Exists() || items.Type == gjson.Null {
		return []ItemReference{}, nil
	}
	if !items.IsArray() {
		return nil, errors.Newf("malformed query response: workItems is %s, not a list", items.Type)
	}

	entries := items.Array()
	refs := make([]ItemReference, 0, len(entries))
	for i, entry := range entries {
		id := entry.Get("id")
		if id.Type != gjson.Number {
			return nil, errors.Newf("malformed query response: workItems[%d] has no numeric id", i)
		}
		refs = append(refs, ItemReference{
			ID:    int(id.Int()),
			URL:   entry.Get("url").String(),
			Title: entry.Get(`fields.System\.Title`).String(),
			State: entry.Get(`fields.System\.State`).String(),
		})
	}
	return refs, nil
}

// GetWorkItems fetches full records, relations included, for up to
// MaxIDsPerRequest ids in one request. Order follows the response. Any failure
// is marked errors.ErrBatchFetch.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxIDsPerRequest {
		return nil, errors.WrapBatchFetch(
			errors.Newf("%d ids requested, limit is %d", len(ids), MaxIDsPerRequest), "work item batch")
	}

	idList := make([]string, len(ids))
	for i, id := range ids {
		idList[i] = strconv.Itoa(id)
	}
	query := url.Values{}
	query.Set("ids", strings.Join(idList, ","))
	query.Set("$expand", "all")

	endpoint, err := c.endpoint(query, "_apis", "wit", "workitems")
	if err != nil {
		return nil, errors.WrapBatchFetch(err, "build batch URL")
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.WrapBatchFetch(err, "work item batch")
	}

	var resp workItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.WrapBatchFetch(errors.Wrap(err, "malformed batch response"), "work item batch")
	}

	items := make([]WorkItem, 0, len(resp.Value))
	for _, w := range resp.Value {
		// errorPolicy=omit style responses leave nulls for unreadable ids
		if w == nil {
			continue
		}
		items = append(items, w.toWorkItem())
	}
	return items, nil
}

// WorkItemURL returns the browser URL for a work item of this project
func (c *Client) WorkItemURL(id int) string {
	u, err := url.JoinPath(c.cfg.BaseURL, url.PathEscape(c.cfg.Org), url.PathEscape(c.cfg.Project),
		"_workitems", "edit", strconv.Itoa(id))
	if err != nil {
		return ""
	}
	return u
}

// endpoint builds {base}/{org}/{project}/{segments...}?api-version=...&query
func (c *Client) endpoint(query url.Values, segments ...string) (string, error) {
	parts := append([]string{url.PathEscape(c.cfg.Org), url.PathEscape(c.cfg.Project)}, segments...)
	base, err := url.JoinPath(c.cfg.BaseURL, parts...)
	if err != nil {
		return "", errors.Wrap(err, "invalid tracker URL")
	}
	query.Set("api-version", c.cfg.APIVersion)
	return base + "?" + query.Encode(), nil
}

// do executes one authenticated request and returns the body of a 2xx response
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.SetBasicAuth("", c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, markTimeout(errors.Wrapf(err, "%s %s", method, redactQuery(endpoint)), err)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Tracker request",
		"method", method,
		logger.FieldURL, redactQuery(endpoint),
		logger.FieldStatusCode, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := errors.Newf("unexpected status %d", resp.StatusCode)
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			err = errors.WithDetail(err, msg)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			err = errors.WithHint(err, "check that the token is valid and can read work items")
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, markTimeout(errors.Wrap(err, "read response body"), err)
	}
	return body, nil
}

// markTimeout tags client-side timeouts so callers can tell them apart
func markTimeout(wrapped, cause error) error {
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return errors.Mark(wrapped, errors.ErrTimeout)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return errors.Mark(wrapped, errors.ErrTimeout)
	}
	return wrapped
}

// redactQuery drops the query string (ids lists get long) for logs and errors
func redactQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
