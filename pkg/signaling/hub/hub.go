// Package hub implements the signaling bus: an append-only event log with a
// push/browse/heartbeat API and a fan-out publish side (spec §4.4).
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unicornparson/lunaricorn/pkg/signaling"
)

// ErrValidation is returned when a push request is missing required fields.
var ErrValidation = errors.New("invalid request")

// PublishChannel is the Redis channel events are broadcast on. Subscriber
// clients filter by event type client-side (spec §4.4's PUB socket,
// substituted with Redis pub/sub — SPEC_FULL.md §4.4).
const PublishChannel = "lunaricorn:signaling:events"

// Config holds the hub's tuning parameters (spec §6.4).
type Config struct {
	SubscriberTimeout int64 `yaml:"subscriber_timeout"`
}

// eventStore is the subset of Store the hub's decision logic needs. Defining
// it here (rather than depending on *Store directly) lets tests exercise
// Push/Browse/List against an in-memory fake.
type eventStore interface {
	CreateEvent(ctx context.Context, eventType string, payload json.RawMessage, affected, tags []string, owner string, ctime time.Time) (int64, error)
	Browse(ctx context.Context, req signaling.BrowseRequest) ([]signaling.Event, error)
	ListDistinct(ctx context.Context, column string) ([]string, error)
	ListDistinctTags(ctx context.Context) ([]string, error)
	ListDistinctAffected(ctx context.Context) ([]string, error)
}

// Hub is the explicit, struct-based replacement for the source's global
// signaling singleton (spec §9 Design Notes).
type Hub struct {
	store             eventStore
	redis             *redis.Client
	logger            *slog.Logger
	subscriberTimeout int64
	now               func() time.Time

	mu      sync.Mutex
	clients map[string]int64
}

// New constructs a Hub over store, publishing to rdb.
func New(store eventStore, rdb *redis.Client, logger *slog.Logger, cfg Config) *Hub {
	return &Hub{
		store:             store,
		redis:             rdb,
		logger:            logger,
		subscriberTimeout: cfg.SubscriberTimeout,
		now:               time.Now,
		clients:           make(map[string]int64),
	}
}

// Push validates, persists, and publishes an event, mirroring the source's
// validate -> persist -> assign eid -> publish -> reply pipeline.
func (h *Hub) Push(ctx context.Context, req signaling.PushRequest) (signaling.PushResponse, error) {
	if req.EventType == "" {
		return signaling.PushResponse{}, fmt.Errorf("%w: missing event_type", ErrValidation)
	}
	if len(req.Message) == 0 {
		return signaling.PushResponse{}, fmt.Errorf("%w: missing message", ErrValidation)
	}

	ctime := h.now()
	if req.Timestamp != nil {
		ctime = time.Unix(*req.Timestamp, 0).UTC()
	}

	owner := req.Source
	if owner == "" {
		owner = signaling.OwnerlessSource
	}

	eid, err := h.store.CreateEvent(ctx, req.EventType, req.Message, req.Affected, req.Tags, owner, ctime)
	if err != nil {
		return signaling.PushResponse{}, fmt.Errorf("persisting event: %w", err)
	}

	event := signaling.Event{
		EID:       eid,
		Type:      req.EventType,
		Payload:   req.Message,
		Affected:  req.Affected,
		Tags:      req.Tags,
		Owner:     owner,
		Timestamp: ctime,
	}
	h.publish(ctx, event)

	return signaling.PushResponse{Status: "success", EID: eid}, nil
}

// publish broadcasts event on the Redis channel. Publish failures are
// logged, not returned: the event is already durably persisted, and a
// missed broadcast is recoverable via browse.
func (h *Hub) publish(ctx context.Context, event signaling.Event) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encoding event for publish", "error", err, "eid", event.EID)
		return
	}
	if err := h.redis.Publish(ctx, PublishChannel, data).Err(); err != nil {
		h.logger.Warn("publishing event failed", "error", err, "eid", event.EID)
	}
}

// Heartbeat records a subscriber's liveness timestamp.
func (h *Hub) Heartbeat(req signaling.HeartbeatRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("%w: missing client_id", ErrValidation)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[req.ClientID] = h.now().Unix()
	return nil
}

// Browse delegates to the store's filtered history query.
func (h *Hub) Browse(ctx context.Context, req signaling.BrowseRequest) ([]signaling.Event, error) {
	return h.store.Browse(ctx, req)
}

// ListEventTypes, ListOwners, ListTags, and ListAffected back the
// GET /v1/list/{...} endpoints.
func (h *Hub) ListEventTypes(ctx context.Context) ([]string, error) {
	return h.store.ListDistinct(ctx, "type")
}

func (h *Hub) ListOwners(ctx context.Context) ([]string, error) {
	return h.store.ListDistinct(ctx, "owner")
}

func (h *Hub) ListTags(ctx context.Context) ([]string, error) {
	return h.store.ListDistinctTags(ctx)
}

func (h *Hub) ListAffected(ctx context.Context) ([]string, error) {
	return h.store.ListDistinctAffected(ctx)
}

// ClientStats returns the known subscriber liveness table, pruning entries
// older than subscriberTimeout.
func (h *Hub) ClientStats() []signaling.ClientStat {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Unix() - h.subscriberTimeout
	stats := make([]signaling.ClientStat, 0, len(h.clients))
	for id, last := range h.clients {
		if h.subscriberTimeout > 0 && last < cutoff {
			delete(h.clients, id)
			continue
		}
		stats = append(stats, signaling.ClientStat{ClientID: id, LastHeartbeat: last})
	}
	return stats
}

// Sweep periodically evicts subscribers that have gone silent past
// subscriberTimeout. Run it as a background goroutine; it returns when ctx
// is done, or at once when subscriberTimeout is not positive.
func (h *Hub) Sweep(ctx context.Context, interval time.Duration) {
	if h.subscriberTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ClientStats()
		}
	}
}
