package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unicornparson/lunaricorn/internal/httpserver"
	"github.com/unicornparson/lunaricorn/pkg/signaling"
)

// Metrics are the hub-specific Prometheus collectors.
type Metrics struct {
	EventsPushedTotal *prometheus.CounterVec
}

// NewMetrics builds the hub's metrics. Register the returned collectors on
// the shared registry at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunaricorn",
				Subsystem: "signaling",
				Name:      "events_pushed_total",
				Help:      "Total number of events pushed, by event type.",
			},
			[]string{"event_type"},
		),
	}
}

// All returns the hub's collectors for registration.
func (m *Metrics) All() []prometheus.Collector {
	return []prometheus.Collector{m.EventsPushedTotal}
}

// Server exposes the hub over HTTP (spec §6.2). The REQ/REP socket model of
// the original is mapped onto HTTP verbs: push and heartbeat are POSTs,
// browse and the list/stat endpoints are reads (SPEC_FULL.md §4.4).
type Server struct {
	hub     *Hub
	logger  *slog.Logger
	metrics *Metrics
}

// NewServer builds a Server over hub.
func NewServer(hub *Hub, logger *slog.Logger, metrics *Metrics) *Server {
	return &Server{hub: hub, logger: logger, metrics: metrics}
}

// Routes returns the chi router mounting every endpoint in spec §6.2.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/push", s.handlePush)
	r.Post("/v1/heartbeat", s.handleHeartbeat)
	r.Post("/v1/browse", s.handleBrowse)
	r.Get("/v1/list/types", s.handleListTypes)
	r.Get("/v1/list/owners", s.handleListOwners)
	r.Get("/v1/list/tags", s.handleListTags)
	r.Get("/v1/list/affected", s.handleListAffected)
	r.Get("/v1/stat/clients", s.handleStatClients)
	r.Get("/health", s.handleHealth)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpserver.RespondMessage(w, http.StatusNotFound, "Endpoint not found")
	})
	return r
}

func (s *Server) handlePush(w http.ResponseWriter, req *http.Request) {
	var body signaling.PushRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	resp, err := s.hub.Push(req.Context(), body)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			httpserver.RespondMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("push failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to push event")
		return
	}

	if s.metrics != nil {
		s.metrics.EventsPushedTotal.WithLabelValues(body.EventType).Inc()
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	var body signaling.HeartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}
	if err := s.hub.Heartbeat(body); err != nil {
		if errors.Is(err, ErrValidation) {
			httpserver.RespondMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("heartbeat failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to record heartbeat")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleBrowse(w http.ResponseWriter, req *http.Request) {
	var body signaling.BrowseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	events, err := s.hub.Browse(req.Context(), body)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			httpserver.RespondMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("browse failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to browse events")
		return
	}
	if events == nil {
		events = []signaling.Event{}
	}
	httpserver.Respond(w, http.StatusOK, events)
}

func (s *Server) handleListTypes(w http.ResponseWriter, req *http.Request) {
	values, err := s.hub.ListEventTypes(req.Context())
	s.respondValues(w, values, err)
}

func (s *Server) handleListOwners(w http.ResponseWriter, req *http.Request) {
	values, err := s.hub.ListOwners(req.Context())
	s.respondValues(w, values, err)
}

func (s *Server) handleListTags(w http.ResponseWriter, req *http.Request) {
	values, err := s.hub.ListTags(req.Context())
	s.respondValues(w, values, err)
}

func (s *Server) handleListAffected(w http.ResponseWriter, req *http.Request) {
	values, err := s.hub.ListAffected(req.Context())
	s.respondValues(w, values, err)
}

func (s *Server) respondValues(w http.ResponseWriter, values []string, err error) {
	if err != nil {
		s.logger.Error("list failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to list values")
		return
	}
	if values == nil {
		values = []string{}
	}
	httpserver.Respond(w, http.StatusOK, values)
}

func (s *Server) handleStatClients(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"clients": s.hub.ClientStats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
