package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/health"
	"github.com/pbaille/jot/internal/ingress"
	"github.com/pbaille/jot/internal/metrics"
	"github.com/pbaille/jot/internal/store"
)

const (
	shutdownTimeout = 5 * time.Second
	maxCaptureBytes = 1 << 20
)

// Server exposes capture and read/query operations over HTTP for tool-call
// and chat frontends. Classification stays in the batch step.
type Server struct {
	store   *store.Store
	inbox   *ingress.Log
	checker *health.Checker
	addr    string
	logger  *zap.Logger
}

// New creates a new API server
func New(s *store.Store, inbox *ingress.Log, checker *health.Checker, addr string, logger *zap.Logger) *Server {
	return &Server{store: s, inbox: inbox, checker: checker, addr: addr, logger: logger}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Captures
	mux.HandleFunc("POST /captures", s.addCapture)

	// Entries
	mux.HandleFunc("GET /entries", s.listEntries)
	mux.HandleFunc("GET /entries/{ref}", s.getEntry)
	mux.HandleFunc("POST /entries/{ref}/complete", s.completeEntry)
	mux.HandleFunc("POST /entries/{ref}/type", s.retypeEntry)

	mux.HandleFunc("GET /search", s.searchEntries)
	mux.HandleFunc("GET /review", s.listReview)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /tags", s.listTags)

	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())

	return withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check()
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy": report.Healthy(),
		"checks":  report.Checks,
	})
}

// AddCaptureRequest is the request body for a new capture
type AddCaptureRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

func (s *Server) addCapture(w http.ResponseWriter, r *http.Request) {
	var req AddCaptureRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCaptureBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "capture too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	id, err := s.inbox.Append(req.Text, req.Source)
	if errors.Is(err, ingress.ErrEmptyCapture) {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		s.logger.Error("capture failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// resolve maps the {ref} path value to an entry id, writing the error
// response itself when that fails.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.store.Resolve(r.PathValue("ref"))
	switch {
	case err == nil:
		return id, true
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, store.ErrAmbiguousRef):
		writeError(w, http.StatusConflict, "ambiguous reference")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return "", false
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}

	entry, err := s.store.GetEntry(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, err := s.store.ClassifierLogs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry":   entry,
		"history": history,
	})
}

func (s *Server) completeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}

	done, err := s.store.CompleteTask(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"completed": done,
	})
}

// RetypeRequest is the request body for changing an entry's type
type RetypeRequest struct {
	Type string `json:"type"`
}

func (s *Server) retypeEntry(w http.ResponseWriter, r *http.Request) {
	var req RetypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ, valid := domain.ParseEntryType(req.Type)
	if !valid {
		writeError(w, http.StatusBadRequest, "type must be one of task, thought, person, event")
		return
	}

	id, ok := s.resolve(w, r)
	if !ok {
		return
	}

	updated, err := s.store.UpdateEntryType(id, typ)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"type":    typ,
		"updated": updated,
	})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Project: q.Get("project"),
		Limit:   queryInt(r, "limit", 20),
	}
	f.All, _ = strconv.ParseBool(q.Get("all"))

	if t := q.Get("type"); t != "" {
		typ, ok := domain.ParseEntryType(t)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown type "+strconv.Quote(t))
			return
		}
		f.Type = typ
	}

	entries, err := s.store.ListEntries(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": nonNil(entries),
		"limit":   f.Limit,
	})
}

func (s *Server) listReview(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.PendingReview()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": nonNil(entries),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tags == nil {
		tags = []domain.Tag{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags": tags,
	})
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	hits, err := s.store.Search(query, queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hits == nil {
		hits = []store.SearchHit{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": hits,
		"query":   query,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func nonNil(entries []domain.Entry) []domain.Entry {
	if entries == nil {
		return []domain.Entry{}
	}
	return entries
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
