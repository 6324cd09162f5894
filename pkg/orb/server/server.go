// Package server exposes the object store over two transports: an HTTP API
// for normal clients (spec §6.3) and a net/rpc service for legacy
// byte-payload callers (spec §4.7, SPEC_FULL.md §4.7 — net/rpc stands in for
// the original's RPC layer since there is no protoc invocation available to
// generate gRPC stubs in this environment).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unicornparson/lunaricorn/internal/httpserver"
	"github.com/unicornparson/lunaricorn/pkg/orb"
	"github.com/unicornparson/lunaricorn/pkg/orb/storage"
)

// Metrics are the orb-specific Prometheus collectors.
type Metrics struct {
	ObjectsPushedTotal prometheus.Counter
}

// NewMetrics builds the orb service's metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ObjectsPushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lunaricorn",
			Subsystem: "orb",
			Name:      "objects_pushed_total",
			Help:      "Total number of objects pushed to the store.",
		}),
	}
}

// All returns the orb service's collectors for registration.
func (m *Metrics) All() []prometheus.Collector {
	return []prometheus.Collector{m.ObjectsPushedTotal}
}

// HTTPServer exposes Storage over chi (spec §6.3).
type HTTPServer struct {
	storage *storage.Storage
	logger  *slog.Logger
	metrics *Metrics
}

// NewHTTPServer builds an HTTPServer over s.
func NewHTTPServer(s *storage.Storage, logger *slog.Logger, metrics *Metrics) *HTTPServer {
	return &HTTPServer{storage: s, logger: logger, metrics: metrics}
}

// Routes returns the chi router mounting every endpoint in spec §6.3.
func (h *HTTPServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/push_data", h.handlePushData)
	r.Post("/v1/push_meta", h.handlePushMeta)
	r.Get("/v1/fetch_data/{uuid}", h.handleFetchData)
	r.Get("/v1/fetch_meta/{uuid}", h.handleFetchMeta)
	r.Get("/health", h.handleHealth)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpserver.RespondMessage(w, http.StatusNotFound, "Endpoint not found")
	})
	return r
}

func (h *HTTPServer) handlePushData(w http.ResponseWriter, req *http.Request) {
	var body orb.PushDataRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	resp, err := h.storage.PushData(req.Context(), body)
	if err != nil {
		h.logger.Error("push_data failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to push object")
		return
	}
	if h.metrics != nil {
		h.metrics.ObjectsPushedTotal.Inc()
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *HTTPServer) handlePushMeta(w http.ResponseWriter, req *http.Request) {
	var body orb.PushMetaRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Invalid request body")
		return
	}
	id, err := h.storage.PushMeta(req.Context(), body)
	if err != nil {
		h.logger.Error("push_meta failed", "error", err)
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to push meta")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *HTTPServer) handleFetchData(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "uuid"))
	if err != nil {
		httpserver.RespondMessage(w, http.StatusBadRequest, "Invalid uuid")
		return
	}
	data, err := h.storage.FetchData(req.Context(), id)
	if err != nil {
		httpserver.RespondMessage(w, http.StatusNotFound, "Object not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, data)
}

func (h *HTTPServer) handleFetchMeta(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "uuid"))
	if err != nil {
		httpserver.RespondMessage(w, http.StatusBadRequest, "Invalid uuid")
		return
	}
	meta, err := h.storage.FetchMeta(req.Context(), id)
	if err != nil {
		httpserver.RespondMessage(w, http.StatusInternalServerError, "Failed to fetch meta")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"meta": meta})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// RawPushDataArgs is the legacy byte-payload request shape accepted by the
// RPC service, kept for callers that predate the JSON HTTP API (spec §4.7,
// Open Question 3: resolved in favor of wrapping the raw bytes as an
// @raw-typed OrbData rather than dropping the legacy path).
type RawPushDataArgs struct {
	Source string
	Flags  []string
	Data   []byte
}

// RawPushDataReply is the RPC service's response.
type RawPushDataReply struct {
	UUID   string
	Handle int64
}

// RPCService adapts Storage to net/rpc's "exported method on an exported
// type" calling convention.
type RPCService struct {
	storage *storage.Storage
}

// PushData is the RPC-callable method, registered under the service name
// "Orb".
func (s *RPCService) PushData(args RawPushDataArgs, reply *RawPushDataReply) error {
	if len(args.Data) == 0 {
		return errors.New("missing data")
	}
	// []byte marshals to a base64-encoded JSON string, giving the @raw
	// payload a well-formed JSON representation to sit alongside @json data.
	encoded, err := json.Marshal(args.Data)
	if err != nil {
		return fmt.Errorf("encoding raw payload: %w", err)
	}
	resp, err := s.storage.PushData(context.Background(), orb.PushDataRequest{
		DataType: orb.DataSubtypeRaw,
		Source:   args.Source,
		Flags:    args.Flags,
		Data:     encoded,
	})
	if err != nil {
		return err
	}
	reply.UUID = resp.UUID.String()
	reply.Handle = resp.Handle
	return nil
}

// ErrNotFound is returned by the RPC fetch methods when the requested record
// is absent. net/rpc has no status-code channel like gRPC's NotFound; an
// error whose text is this sentinel's is the idiomatic net/rpc stand-in for
// spec §4.7's "RPC not-found code".
var ErrNotFound = errors.New("not found")

// PushMetaArgs is the RPC argument shape for PushMeta.
type PushMetaArgs struct {
	UUID  string
	Flags []string
}

// IDReply wraps a single assigned or returned id.
type IDReply struct {
	ID int64
}

// PushMeta is the RPC-callable counterpart of the HTTP push_meta endpoint.
func (s *RPCService) PushMeta(args PushMetaArgs, reply *IDReply) error {
	id, err := uuid.Parse(args.UUID)
	if err != nil {
		return fmt.Errorf("invalid uuid: %w", err)
	}
	assigned, err := s.storage.PushMeta(context.Background(), orb.PushMetaRequest{UUID: id, Flags: args.Flags})
	if err != nil {
		return err
	}
	reply.ID = assigned
	return nil
}

// FetchArgs is the RPC argument shape shared by FetchData and FetchMeta.
type FetchArgs struct {
	UUID string
}

// FetchDataReply is the legacy, byte-oriented fetch_data reply: the raw data
// payload alongside its uuid and source, rather than the full typed
// record FetchOrbData returns.
type FetchDataReply struct {
	UUID   string
	Source string
	Data   []byte
}

// FetchData is the RPC-callable counterpart of the HTTP fetch_data endpoint.
func (s *RPCService) FetchData(args FetchArgs, reply *FetchDataReply) error {
	id, err := uuid.Parse(args.UUID)
	if err != nil {
		return fmt.Errorf("invalid uuid: %w", err)
	}
	data, err := s.storage.FetchData(context.Background(), id)
	if err != nil {
		return ErrNotFound
	}
	reply.UUID = data.UUID.String()
	reply.Source = data.Source
	reply.Data = []byte(data.Data)
	return nil
}

// FetchMetaReply carries an object's recorded meta history.
type FetchMetaReply struct {
	Meta []orb.OrbMeta
}

// FetchMeta is the RPC-callable counterpart of the HTTP fetch_meta endpoint.
func (s *RPCService) FetchMeta(args FetchArgs, reply *FetchMetaReply) error {
	id, err := uuid.Parse(args.UUID)
	if err != nil {
		return fmt.Errorf("invalid uuid: %w", err)
	}
	meta, err := s.storage.FetchMeta(context.Background(), id)
	if err != nil {
		return err
	}
	if len(meta) == 0 {
		return ErrNotFound
	}
	reply.Meta = meta
	return nil
}

// PushOrbData is the typed RPC entry point over the full OrbData record
// shape (spec §6.3), as opposed to PushData's legacy byte-only form.
func (s *RPCService) PushOrbData(args orb.PushDataRequest, reply *orb.PushDataResponse) error {
	resp, err := s.storage.PushData(context.Background(), args)
	if err != nil {
		return err
	}
	*reply = resp
	return nil
}

// PushOrbMeta is the typed RPC entry point over the full OrbMeta record
// shape (spec §6.3).
func (s *RPCService) PushOrbMeta(args orb.PushMetaRequest, reply *IDReply) error {
	id, err := s.storage.PushMeta(context.Background(), args)
	if err != nil {
		return err
	}
	reply.ID = id
	return nil
}

// FetchOrbData is the typed RPC entry point returning a full OrbData record.
func (s *RPCService) FetchOrbData(args FetchArgs, reply *orb.OrbData) error {
	id, err := uuid.Parse(args.UUID)
	if err != nil {
		return fmt.Errorf("invalid uuid: %w", err)
	}
	data, err := s.storage.FetchData(context.Background(), id)
	if err != nil {
		return ErrNotFound
	}
	*reply = data
	return nil
}

// FetchOrbMeta is the typed RPC entry point returning an object's full meta
// history.
func (s *RPCService) FetchOrbMeta(args FetchArgs, reply *FetchMetaReply) error {
	return s.FetchMeta(args, reply)
}

// RPCServer runs the net/rpc listener alongside the HTTP API.
type RPCServer struct {
	addr     string
	logger   *slog.Logger
	listener net.Listener
}

// NewRPCServer builds an RPCServer bound to addr, registering s under the
// service name "Orb".
func NewRPCServer(addr string, s *storage.Storage, logger *slog.Logger) (*RPCServer, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Orb", &RPCService{storage: s}); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return &RPCServer{addr: addr, logger: logger, listener: ln}, nil
}

// Close stops accepting new RPC connections.
func (r *RPCServer) Close() error {
	return r.listener.Close()
}
