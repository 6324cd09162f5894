// Package httpserver provides the chi-based HTTP scaffolding (middleware,
// JSON envelopes, the /metrics handler) shared by the registrar, the
// signaling hub, and the orb server's HTTP surfaces.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// RespondMessage writes the `{"message": "..."}` envelope the registrar and
// signaling HTTP APIs use for failures (spec §6.1/§6.2).
func RespondMessage(w http.ResponseWriter, status int, message string) {
	Respond(w, status, map[string]string{"message": message})
}

// MetricsHandler exposes reg over /metrics in the Prometheus exposition
// format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
