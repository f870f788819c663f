// Package intake exposes the HTTP surface of the engine: alert submission,
// incident reads, health, and metrics.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moolen/quorum/internal/ledger"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/orchestrator"
)

// maxAlertBytes bounds the inbound alert payload.
const maxAlertBytes = 1 << 20

// Server is the HTTP intake server. It implements lifecycle.Component.
type Server struct {
	port   int
	server *http.Server
	router *http.ServeMux
	orch   *orchestrator.Orchestrator
	store  *ledger.Store
	logger *logging.Logger
}

// NewServer creates the intake server. The metrics endpoint serves the given
// registry; pass prometheus.DefaultRegisterer's gatherer in production.
func NewServer(port int, orch *orchestrator.Orchestrator, store *ledger.Store, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		port:   port,
		router: http.NewServeMux(),
		orch:   orch,
		store:  store,
		logger: logging.GetLogger("intake"),
	}

	s.router.HandleFunc("POST /api/v1/alerts", s.handleAlert)
	s.router.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)
	s.router.HandleFunc("GET /api/v1/incidents/{id}/events", s.handleGetIncidentEvents)
	s.router.HandleFunc("GET /healthz", s.handleHealthz)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start implements lifecycle.Component.
func (s *Server) Start(_ context.Context) error {
	go func() {
		s.logger.Info("intake API listening on :%d", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorWithErr("intake server failed", err)
		}
	}()
	return nil
}

// Stop implements lifecycle.Component.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Name implements lifecycle.Component.
func (s *Server) Name() string {
	return "intake-api"
}

// alertResponse is the synchronous reply to an accepted alert.
type alertResponse struct {
	IncidentID string `json:"incident_id"`
}

// handleAlert accepts an alert and returns the incident ID immediately;
// resolution proceeds in the background.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	var alert models.Alert
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAlertBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&alert); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid alert payload: %v", err))
		return
	}

	id, err := s.orch.OpenIncident(r.Context(), alert)
	if err != nil {
		if models.IsValidationError(err) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.ErrorWithErr("failed to open incident", err)
		s.writeError(w, http.StatusServiceUnavailable, "failed to open incident")
		return
	}

	s.writeJSON(w, http.StatusAccepted, alertResponse{IncidentID: id})
}

// handleGetIncident returns the incident snapshot reconstructed from the
// ledger.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	inc, err := s.store.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.logger.ErrorWithErr("failed to read incident", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read incident")
		return
	}
	s.writeJSON(w, http.StatusOK, inc)
}

// handleGetIncidentEvents returns the incident's raw event stream.
func (s *Server) handleGetIncidentEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	events, err := s.store.Replay(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.logger.ErrorWithErr("failed to replay incident", err)
		s.writeError(w, http.StatusInternalServerError, "failed to replay incident")
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorWithErr("failed to encode response", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
