// Package trackertest provides an in-process fake of the work tracking API
// for tests: a WIQL endpoint and a batch work item endpoint backed by an
// in-memory item set, with switches for injecting failures.
package trackertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teranos/linkaudit/internal/httpclient"
	"github.com/teranos/linkaudit/tracker"
)

// Relation labels as the tracker spells them
const (
	RelParent  = "System.LinkTypes.Hierarchy-Reverse"
	RelChild   = "System.LinkTypes.Hierarchy-Forward"
	RelRelated = "System.LinkTypes.Related"
)

// Item is a work item held by the fake
type Item struct {
	ID        int
	Title     string
	State     string
	Relations []string
	NoFields  bool   // omit the fields object entirely
	HTMLURL   string // empty = omit _links
}

// Server is a fake tracker. All fields are guarded by mu once the server runs;
// set them up before issuing requests or use the helper methods.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	items       map[int]Item
	order       []int
	queryStatus int
	queryBody   string
	failBatches map[int]int
	delay       time.Duration
	batchDelays map[int]time.Duration
	batchSeen   int

	QueryCalls  int
	BatchCalls  [][]int
	AuthHeaders []string
	Queries     []string
}

// NewServer starts a fake tracker that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		items:       make(map[int]Item),
		failBatches: make(map[int]int),
		batchDelays: make(map[int]time.Duration),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Add registers items; query results follow insertion order
func (s *Server) Add(items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, exists := s.items[it.ID]; !exists {
			s.order = append(s.order, it.ID)
		}
		s.items[it.ID] = it
	}
}

// SetQueryOrder overrides the id list the query returns (duplicates allowed)
func (s *Server) SetQueryOrder(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = ids
}

// FailQuery makes the WIQL endpoint answer with status
func (s *Server) FailQuery(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryStatus = status
}

// SetQueryBody makes the WIQL endpoint answer 200 with a raw body
func (s *Server) SetQueryBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryBody = body
}

// SetDelay holds every response for d, or until the client gives up
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// DelayBatch holds the n-th batch response (1-based, counting abandoned
// requests) for d, or until the client gives up
func (s *Server) DelayBatch(n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDelays[n] = d
}

// FailBatch makes the n-th batch call (1-based) answer with status
func (s *Server) FailBatch(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBatches[n] = status
}

// Calls returns the number of query and batch calls seen so far
func (s *Server) Calls() (query, batch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCalls, len(s.BatchCalls)
}

// Config returns a tracker config pointing at the fake
func (s *Server) Config() tracker.Config {
	return tracker.Config{
		BaseURL:    s.URL,
		Org:        "contoso",
		Project:    "Fabrikam Fiber",
		APIVersion: "7.0",
		Token:      "test-pat",
	}
}

// NewClient returns a tracker client wired to the fake
func (s *Server) NewClient(t testing.TB) *tracker.Client {
	t.Helper()
	client, err := tracker.NewClient(s.Config(), httpclient.WrapClient(s.Server.Client()), nil)
	if err != nil {
		t.Fatalf("tracker.NewClient: %v", err)
	}
	return client
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.delay
	if isBatchRequest(r) {
		s.batchSeen++
		if d, ok := s.batchDelays[s.batchSeen]; ok {
			delay = d
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.AuthHeaders = append(s.AuthHeaders, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_apis/wit/wiql"):
		s.handleQuery(w, r)
	case isBatchRequest(r):
		s.handleBatch(w, r)
	default:
		http.NotFound(w, r)
	}
}

func isBatchRequest(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/_apis/wit/workitems")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.QueryCalls++

	var req struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.Queries = append(s.Queries, req.Query)

	if s.queryStatus != 0 {
		http.Error(w, `{"message":"query failed"}`, s.queryStatus)
		return
	}
	if s.queryBody != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.queryBody))
		return
	}

	refs := make([]map[string]interface{}, 0, len(s.order))
	for _, id := range s.order {
		refs = append(refs, map[string]interface{}{
			"id":  id,
			"url": fmt.Sprintf("%s/_apis/wit/workItems/%d", s.URL, id),
		})
	}
	writeJSON(w, map[string]interface{}{
		"queryType": "flat",
		"workItems": refs,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var ids []int
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "bad ids", http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	s.BatchCalls = append(s.BatchCalls, ids)

	if status, ok := s.failBatches[len(s.BatchCalls)]; ok {
		http.Error(w, `{"message":"batch failed"}`, status)
		return
	}
	if r.URL.Query().Get("$expand") != "all" {
		http.Error(w, "expand=all required", http.StatusBadRequest)
		return
	}

	value := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok {
			value = append(value, nil)
			continue
		}
		value = append(value, renderItem(it))
	}
	writeJSON(w, map[string]interface{}{"count": len(value), "value": value})
}

func renderItem(it Item) map[string]interface{} {
	out := map[string]interface{}{"id": it.ID}
	if !it.NoFields {
		fields := map[string]interface{}{"System.WorkItemType": "Task"}
		if it.Title != "" {
			fields["System.Title"] = it.Title
		}
		if it.State != "" {
			fields["System.State"] = it.State
		}
		out["fields"] = fields
	}
	if it.Relations != nil {
		rels := make([]map[string]interface{}, 0, len(it.Relations))
		for _, rel := range it.Relations {
			rels = append(rels, map[string]interface{}{"rel": rel, "url": "https://example.invalid/_apis/wit/workItems/1"})
		}
		out["relations"] = rels
	}
	if it.HTMLURL != "" {
		out["_links"] = map[string]interface{}{"html": map[string]string{"href": it.HTMLURL}}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
