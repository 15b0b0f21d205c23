// Package httpapi is the thin HTTP surface over the pipeline trigger and the
// ranking read path.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
	"github.com/joelkehle/gamerank/internal/pipeline"
	"github.com/joelkehle/gamerank/internal/ranking"
	"github.com/joelkehle/gamerank/internal/report"
	"github.com/joelkehle/gamerank/internal/store"
)

const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeAlreadyRunning = "already_running"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal_error"
)

type Runner interface {
	Start(ctx context.Context) error
	Status() pipeline.Status
}

type Storage interface {
	Ping(ctx context.Context) error
	RecentNotifications(ctx context.Context, limit int) ([]store.NotificationRecord, error)
}

type Deps struct {
	Rankings *ranking.Service
	Runner   Runner
	Storage  Storage
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Log     *logging.Logger
}

type Server struct {
	rankings *ranking.Service
	runner   Runner
	storage  Storage
	log      *logging.Logger
}

func NewServer(deps Deps) http.Handler {
	s := &Server{
		rankings: deps.Rankings,
		runner:   deps.Runner,
		storage:  deps.Storage,
		log:      logging.OrNop(deps.Log),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/rankings/latest", s.handleLatest)
	mux.HandleFunc("/api/rankings/", s.handleRankingByDate)
	mux.HandleFunc("/api/stats/distribution", s.handleDistribution)
	mux.HandleFunc("/api/run-evaluation", s.handleRunEvaluation)
	mux.HandleFunc("/api/evaluation-status", s.handleEvaluationStatus)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/report", s.handleReport)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed_ms", time.Since(started).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// writeReadError maps read-path errors onto statuses.
func (s *Server) writeReadError(w http.ResponseWriter, err error) {
	switch {
	case ranking.IsInvalidArgument(err):
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "no evaluations recorded yet")
	default:
		s.log.Error("http read_failed", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// rankingQuery reads the shared type and limit parameters.
func rankingQuery(r *http.Request) (game.GameType, int, error) {
	q := r.URL.Query()
	typ, err := ranking.ParseTypeFilter(strings.TrimSpace(q.Get("type")))
	if err != nil {
		return "", 0, err
	}
	return typ, parseInt(q.Get("limit"), ranking.DefaultLimit), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	running := s.runner.Status().Running
	if err := s.storage.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded", "database": err.Error(), "is_running": running,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "ok", "is_running": running})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	typ, limit, err := rankingQuery(r)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	snap, err := s.rankings.Latest(r.Context(), typ, limit)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRankingByDate(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	date := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rankings/"), "/")
	if date == "" || strings.Contains(date, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	typ, limit, err := rankingQuery(r)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	snap, err := s.rankings.Snapshot(r.Context(), date, typ, limit)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	date, buckets, err := s.rankings.Distribution(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	if buckets == nil {
		buckets = []game.ScoreBucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "distribution": buckets})
}

func (s *Server) handleRunEvaluation(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if err := s.runner.Start(r.Context()); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, CodeAlreadyRunning, "an evaluation run is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	s.log.Info("http run_accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "message": "evaluation run started"})
}

func (s *Server) handleEvaluationStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	limit := min(max(parseInt(r.URL.Query().Get("limit"), 20), 1), 100)
	recs, err := s.storage.RecentNotifications(r.Context(), limit)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	if recs == nil {
		recs = []store.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": recs})
}

// handleReport serves the HTML ranking report for ?date= or the latest date.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	date, _, err := s.rankings.Distribution(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	data, err := report.Build(r.Context(), s.rankings, date, parseInt(r.URL.Query().Get("limit"), 20), 3)
	if err != nil {
		s.writeReadError(w, err)
		return
	}
	doc, err := report.HTML(report.Markdown(data), "GameRank "+date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}
