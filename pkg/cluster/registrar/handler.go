package registrar

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unicornparson/lunaricorn/internal/httpserver"
	"github.com/unicornparson/lunaricorn/pkg/cluster"
)

// Metrics are the registrar-specific Prometheus collectors.
type Metrics struct {
	BeaconsTotal *prometheus.CounterVec
}

// NewMetrics builds the registrar's metrics. Register the returned
// collectors on the shared registry at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		BeaconsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunaricorn",
				Subsystem: "registrar",
				Name:      "beacons_total",
				Help:      "Total number of beacon requests received, by node type.",
			},
			[]string{"node_type"},
		),
	}
}

// All returns the registrar's collectors for registration.
func (m *Metrics) All() []prometheus.Collector {
	return []prometheus.Collector{m.BeaconsTotal}
}

// Handler exposes the registrar over HTTP (spec §6.1).
type Handler struct {
	registrar *Registrar
	logger    *slog.Logger
	metrics   *Metrics
}

// NewHandler builds a Handler over registrar.
func NewHandler(r *Registrar, logger *slog.Logger, metrics *Metrics) *Handler {
	return &Handler{registrar: r, logger: logger, metrics: metrics}
}

// Routes returns the chi router mounting every endpoint in spec §6.1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/imalive", h.handleBeacon)
	r.Get("/v1/list", h.handleList)
	r.Post("/v1/discover", h.handleDiscover)
	r.Get("/v1/clusterinfo", h.handleClusterInfo)
	r.Get("/v1/getenv", h.handleGetEnv)
	r.Get("/v1/utils/get_mid", h.handleGetMessageID)
	r.Get("/v1/utils/get_oid", h.handleGetObjectID)
	r.Get("/health", h.handleHealth)
	r.Get("/", h.handleRoot)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpserver.RespondMessage(w, http.StatusNotFound, "Endpoint not found")
	})
	return r
}

func (h *Handler) handleBeacon(w http.ResponseWriter, req *http.Request) {
	var body cluster.BeaconRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	if err := h.registrar.Beacon(req.Context(), body); err != nil {
		if errors.Is(err, ErrValidation) {
			h.logger.Error("beacon validation failed", "error", err)
			httpserver.RespondMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.logger.Error("beacon failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to update node")
		return
	}

	if h.metrics != nil {
		h.metrics.BeaconsTotal.WithLabelValues(body.NodeType).Inc()
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) handleList(w http.ResponseWriter, req *http.Request) {
	nodes, err := h.registrar.List(req.Context())
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			httpserver.RespondMessage(w, http.StatusInternalServerError, "Leader is not ready to start "+time.Now().Format(time.RFC3339))
			return
		}
		h.logger.Error("list failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if nodes == nil {
		nodes = []cluster.Node{}
	}
	httpserver.Respond(w, http.StatusOK, cluster.ListResponse{
		Services:   nodes,
		TotalCount: len(nodes),
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// handleDiscover is a documented stub: the original source never implemented
// real discovery logic (SPEC_FULL.md §5), and is kept only for wire
// compatibility with callers of the original /v1/discover endpoint.
func (h *Handler) handleDiscover(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"query":       body.Query,
		"results":     []any{},
		"total_count": 0,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleClusterInfo(w http.ResponseWriter, req *http.Request) {
	info, err := h.registrar.DetailedStatus(req.Context())
	if err != nil {
		h.logger.Error("clusterinfo failed", "error", err)
		httpserver.RespondMessage(w, http.StatusServiceUnavailable, "Leader service is initializing")
		return
	}
	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) handleGetEnv(w http.ResponseWriter, req *http.Request) {
	cfg, err := h.registrar.GetEnv(req.Context())
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			httpserver.RespondMessage(w, http.StatusInternalServerError, "Leader is not ready to start")
			return
		}
		h.logger.Error("getenv failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Error getting cluster configuration")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"cfg":       cfg,
		"core":      "1.0.0",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetMessageID(w http.ResponseWriter, req *http.Request) {
	mid, err := h.registrar.NextMessageID(req.Context())
	if err != nil {
		h.logger.Error("get_mid failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to allocate message id")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int64{"mid": mid})
}

func (h *Handler) handleGetObjectID(w http.ResponseWriter, req *http.Request) {
	oid, err := h.registrar.NextObjectID(req.Context())
	if err != nil {
		h.logger.Error("get_oid failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to allocate object id")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int64{"oid": oid})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"message": "Leader API - Service Discovery and Health Monitoring",
		"version": "1.0.0",
		"status":  "healthy",
	})
}
