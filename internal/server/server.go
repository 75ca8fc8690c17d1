// Package server is the HTTP boundary described in spec §6: it is not part
// of the scraping engine's core, but the thin adapter that turns the
// orchestrator, progress tracker, cursor manager and history store into the
// documented REST/WebSocket surface. Authentication is an external
// collaborator's concern — every handler trusts an already-authenticated
// X-User-ID header rather than performing auth itself.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/cursor"
	"github.com/TDHINGRA16/Scrappy/internal/history"
	"github.com/TDHINGRA16/Scrappy/internal/metrics"
	"github.com/TDHINGRA16/Scrappy/internal/orchestrator"
	"github.com/TDHINGRA16/Scrappy/internal/progress"
	"github.com/TDHINGRA16/Scrappy/internal/sessionpool"
)

// Server wires the core collaborators to net/http handlers.
type Server struct {
	Config  config.Config
	Log     *zap.Logger
	Orch    *orchestrator.Orchestrator
	Pool    *sessionpool.Pool
	Cursors *cursor.Manager
	History *history.Store
	Progress *progress.Tracker
	Metrics *metrics.Collector

	limiters *perUserLimiters
}

// New builds a Server ready to mount via Routes.
func New(cfg config.Config, log *zap.Logger, orch *orchestrator.Orchestrator, pool *sessionpool.Pool, cursors *cursor.Manager, hist *history.Store, prog *progress.Tracker, mc *metrics.Collector) *Server {
	return &Server{
		Config:   cfg,
		Log:      log,
		Orch:     orch,
		Pool:     pool,
		Cursors:  cursors,
		History:  hist,
		Progress: prog,
		Metrics:  mc,
		limiters: newPerUserLimiters(cfg.APIRateLimitPerSecond, cfg.APIRateLimitBurst),
	}
}

// Routes builds the full mux described in §6.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}

	mux.HandleFunc("/scrape-async", s.withUser(s.rateLimited(s.handleScrapeAsync)))
	mux.HandleFunc("/scrape/", s.withUser(s.handleScrapeSub)) // /scrape/{id}/progress|results
	mux.HandleFunc("/ws/scrape/", s.withUser(s.handleScrapeWS))

	mux.HandleFunc("/cursors", s.withUser(s.handleCursors))
	mux.HandleFunc("/cursor", s.withUser(s.handleCursor))
	mux.HandleFunc("/cursor/cleanup", s.withUser(s.handleCursorCleanup))

	mux.HandleFunc("/history", s.withUser(s.handleHistory))
	mux.HandleFunc("/stats", s.withUser(s.handleStats))
	mux.HandleFunc("/seen-places", s.withUser(s.handleSeenPlaces))

	mux.HandleFunc("/session-info", s.withUser(s.handleSessionInfo))
	mux.HandleFunc("/release-session", s.withUser(s.handleReleaseSession))
	mux.HandleFunc("/reset-session", s.withUser(s.handleResetSession))

	return mux
}

// userIDKey is the context key the auth boundary would populate in a real
// deployment; here withUser reads it straight off the request header since
// authentication itself is out of scope (§1).
type userIDKey struct{}

func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next(w, r.WithContext(ctx))
	}
}

func userIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFrom(r)
		if !s.limiters.allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scrapeAsyncRequest struct {
	SearchQuery string `json:"search_query"`
	TargetCount int    `json:"target_count"`
	MaxScrolls  int    `json:"max_scrolls"`
}

func (s *Server) handleScrapeAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req scrapeAsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.Orch.ScrapeAsync(r.Context(), userIDFrom(r), req.SearchQuery, req.TargetCount, req.MaxScrolls)
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scrape_id":            result.ScrapeID,
		"status":               "started",
		"cursor_status":        result.CursorStatus,
		"previously_collected": result.PreviouslyCollected,
		"seen_places_count":    result.SeenPlacesCount,
		"target_count":         result.TargetCount,
	})
}

// handleScrapeSub dispatches /scrape/{id}/progress and /scrape/{id}/results.
func (s *Server) handleScrapeSub(w http.ResponseWriter, r *http.Request) {
	id, sub := splitScrapePath(r.URL.Path)
	if id == "" {
		writeError(w, http.StatusNotFound, "missing scrape id")
		return
	}
	switch sub {
	case "progress":
		s.handleScrapeProgress(w, r, id)
	case "results":
		s.handleScrapeResults(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown sub-resource")
	}
}

func (s *Server) handleScrapeProgress(w http.ResponseWriter, r *http.Request, id string) {
	snap, ok := s.Progress.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scrape_id")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleScrapeResults(w http.ResponseWriter, r *http.Request, id string) {
	snap, ok := s.Progress.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scrape_id")
		return
	}
	if snap.Status != "completed" && snap.Status != "failed" {
		writeError(w, http.StatusTooEarly, "scrape still in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scrape_id": id,
		"status":    snap.Status,
		"results":   snap.FinalResults,
		"error":     snap.ErrorMessage,
	})
}

func (s *Server) handleCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.Cursors.List(userIDFrom(r))
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursors)
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter")
		return
	}
	userID := userIDFrom(r)

	switch r.Method {
	case http.MethodGet:
		summary, err := s.Cursors.Summary(userID, query)
		if err != nil {
			s.writeTranslatedError(w, err)
			return
		}
		if summary == nil {
			writeError(w, http.StatusNotFound, "no cursor for query")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodDelete:
		if err := s.Cursors.Clear(userID, query); err != nil {
			s.writeTranslatedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or DELETE required")
	}
}

func (s *Server) handleCursorCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	removed, err := s.Cursors.CleanupExpired()
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.History.Sessions(userIDFrom(r))
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.History.UserStats(userIDFrom(r))
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSeenPlaces(w http.ResponseWriter, r *http.Request) {
	seen, err := s.History.SeenPlaces(userIDFrom(r))
	if err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"place_ids": ids, "count": len(ids)})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Pool.Stats())
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.Pool.Release(userIDFrom(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.Pool.Reset(userIDFrom(r)); err != nil {
		s.writeTranslatedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// writeTranslatedError implements §7's propagation policy at the HTTP
// boundary: a type switch on the apperrors taxonomy, not string matching.
func (s *Server) writeTranslatedError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *apperrors.PolicyError:
		writeError(w, http.StatusConflict, e.Error())
	case *apperrors.PersistenceError:
		writeError(w, http.StatusInternalServerError, e.Error())
	case *apperrors.FatalScrapeError:
		writeError(w, http.StatusInternalServerError, e.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func splitScrapePath(path string) (id, sub string) {
	const prefix = "/scrape/"
	if len(path) <= len(prefix) {
		return "", ""
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

// perUserLimiters is a token-bucket limiter per user_id, following the
// teacher's per-client rate-limit middleware pattern backed by
// golang.org/x/time/rate instead of a hand-rolled counter.
type perUserLimiters struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPerUserLimiters(rps float64, burst int) *perUserLimiters {
	return &perUserLimiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *perUserLimiters) allow(userID string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[userID] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

