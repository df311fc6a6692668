package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/health"
	"github.com/pbaille/jot/internal/ingress"
	"github.com/pbaille/jot/internal/store"
)

type testServer struct {
	*httptest.Server
	store *store.Store
	inbox *ingress.Log
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	cfg.LLM.APIKey = "k"
	logger := zaptest.NewLogger(t)

	s, err := store.New(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	inbox := ingress.New(cfg.InboxPath(), logger)
	srv := New(s, inbox, health.NewChecker(cfg, s, inbox, logger), cfg.Server.Addr, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: s, inbox: inbox}
}

func (ts *testServer) seed(t *testing.T, id string, typ domain.EntryType, title string, review bool) *domain.Entry {
	t.Helper()
	e := domain.NewEntry(
		domain.CaptureRecord{ID: id, Source: "test", Text: title},
		domain.ClassificationResult{Type: typ, Title: title, Confidence: 0.9, Tags: []string{"work"}},
	)
	e.NeedsReclassification = review
	require.NoError(t, ts.store.InsertEntry(e))
	return e
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestAddCapture(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/captures", `{"text":"Buy milk\ntomorrow","source":"telegram"}`)
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	records, err := ts.inbox.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "Buy milk\ntomorrow", records[0].Text)
	assert.Equal(t, "telegram", records[0].Source)

	status, _ = ts.do(t, "POST", "/captures", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, "POST", "/captures", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAddCaptureDefaultsSource(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, "POST", "/captures", `{"text":"hello"}`)
	require.Equal(t, http.StatusCreated, status)

	records, err := ts.inbox.Records()
	require.NoError(t, err)
	assert.Equal(t, "api", records[0].Source)
}

func TestAddCaptureRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t)
	body := `{"text":"` + strings.Repeat("a", maxCaptureBytes) + `"}`

	status, _ := ts.do(t, "POST", "/captures", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	records, err := ts.inbox.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGetEntryByReference(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, "0191aaaa-task", domain.TypeTask, "Email Sarah", false)

	for _, ref := range []string{e.ID, "0191aaaa", strconv.FormatInt(e.Seq, 10)} {
		status, body := ts.do(t, "GET", "/entries/"+ref, "")
		require.Equal(t, http.StatusOK, status, ref)
		entry := body["entry"].(map[string]any)
		assert.Equal(t, e.ID, entry["id"])
	}

	status, _ := ts.do(t, "GET", "/entries/nope", "")
	assert.Equal(t, http.StatusNotFound, status)

	ts.seed(t, "0191aaab-other", domain.TypeThought, "Other", false)
	status, _ = ts.do(t, "GET", "/entries/0191aaa", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestCompleteEntry(t *testing.T) {
	ts := newTestServer(t)
	task := ts.seed(t, "task-1", domain.TypeTask, "Do it", false)
	thought := ts.seed(t, "thought-1", domain.TypeThought, "Idea", false)

	status, body := ts.do(t, "POST", "/entries/"+task.ID+"/complete", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["completed"])

	_, body = ts.do(t, "POST", "/entries/"+task.ID+"/complete", "")
	assert.Equal(t, false, body["completed"])

	_, body = ts.do(t, "POST", "/entries/"+thought.ID+"/complete", "")
	assert.Equal(t, false, body["completed"])
}

func TestRetypeEntry(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, "flagged-1", domain.TypeThought, "Call mom", true)

	status, _ := ts.do(t, "POST", "/entries/"+e.ID+"/type", `{"type":"idea"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	got, err := ts.store.GetEntry(e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeThought, got.Type)

	status, body := ts.do(t, "POST", "/entries/"+e.ID+"/type", `{"type":"task"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["updated"])

	_, body = ts.do(t, "GET", "/review", "")
	assert.Empty(t, body["entries"])
}

func TestListAndSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a", domain.TypeTask, "Review the pull request", false)
	ts.seed(t, "b", domain.TypeEvent, "Team standup", false)

	_, body := ts.do(t, "GET", "/entries?type=task", "")
	assert.Len(t, body["entries"], 1)

	status, _ := ts.do(t, "GET", "/entries?type=idea", "")
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = ts.do(t, "GET", "/search?q=standup", "")
	hits := body["entries"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].(map[string]any)["id"])

	_, body = ts.do(t, "GET", "/search?q=nothingmatches", "")
	assert.Equal(t, []any{}, body["entries"])

	status, _ = ts.do(t, "GET", "/search", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatsTagsAndReview(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a", domain.TypeTask, "One", false)
	ts.seed(t, "b", domain.TypeThought, "Two", true)

	_, body := ts.do(t, "GET", "/stats", "")
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["pending_review"])

	_, body = ts.do(t, "GET", "/tags", "")
	tags := body["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "work", tags[0].(map[string]any)["name"])

	_, body = ts.do(t, "GET", "/review", "")
	assert.Len(t, body["entries"], 1)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["healthy"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, "OPTIONS", "/captures", "")
	assert.Equal(t, http.StatusOK, status)
}
