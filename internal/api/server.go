// Package api exposes the operational HTTP surface: health probes,
// Prometheus metrics, and read-only run status.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
	handlerTimeout  = 5 * time.Second
)

// Server wires the HTTP handlers to the ledger.
type Server struct {
	router chi.Router
	ledger pipeline.Ledger
	logger *zap.Logger
}

// NewServer constructs a Server with its routes.
func NewServer(ledger pipeline.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{ledger: ledger, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/runs/latest", s.latestRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := s.ledger.RecentRuns(ctx, limit)
	if err != nil {
		s.logger.Error("List runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "ledger query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runViews(runs)})
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	runs, err := s.ledger.RecentRuns(ctx, 1)
	if err != nil {
		s.logger.Error("Latest run lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "ledger query failed")
		return
	}
	if len(runs) == 0 {
		s.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, runView(runs[0]))
}

type runViewBody struct {
	ID                 string  `json:"id"`
	Mode               string  `json:"mode"`
	Outcome            string  `json:"outcome"`
	StartedAt          string  `json:"started_at"`
	FinishedAt         *string `json:"finished_at"`
	SourcesChecked     int     `json:"sources_checked"`
	OpinionsDiscovered int     `json:"opinions_discovered"`
	OpinionsDownloaded int     `json:"opinions_downloaded"`
	OpinionsFailed     int     `json:"opinions_failed"`
	AnalysesCompleted  int     `json:"analyses_completed"`
	AnalysesFailed     int     `json:"analyses_failed"`
}

func runView(run pipeline.RunSummary) runViewBody {
	view := runViewBody{
		ID:                 run.ID,
		Mode:               string(run.Mode),
		Outcome:            string(run.Outcome),
		StartedAt:          run.StartedAt.UTC().Format(time.RFC3339),
		SourcesChecked:     run.SourcesChecked,
		OpinionsDiscovered: run.OpinionsDiscovered,
		OpinionsDownloaded: run.OpinionsDownloaded,
		OpinionsFailed:     run.OpinionsFailed,
		AnalysesCompleted:  run.AnalysesCompleted,
		AnalysesFailed:     run.AnalysesFailed,
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.UTC().Format(time.RFC3339)
		view.FinishedAt = &finished
	}
	return view
}

func runViews(runs []pipeline.RunSummary) []runViewBody {
	views := make([]runViewBody, len(runs))
	for i, run := range runs {
		views[i] = runView(run)
	}
	return views
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
