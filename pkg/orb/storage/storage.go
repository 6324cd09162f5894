package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unicornparson/lunaricorn/pkg/orb"
	"github.com/unicornparson/lunaricorn/pkg/signaling"
)

// ObjectIDAllocator hands out the cluster-wide monotonic OBJECT_ID counter
// (spec §4.2's get_oid), used here to stamp each orb_meta row with a
// globally ordered handle.
type ObjectIDAllocator interface {
	NextObjectID(ctx context.Context) (int64, error)
}

// EventPublisher is the subset of the signaling client storage needs to
// announce object lifecycle events (spec §4.6).
type EventPublisher interface {
	Push(ctx context.Context, req signaling.PushRequest) (signaling.PushResponse, error)
}

// objectStore is the subset of Store the service's decision logic needs.
// Defining it here (rather than depending on *Store directly) lets tests
// exercise PushData/PushMeta against an in-memory fake.
type objectStore interface {
	InsertData(ctx context.Context, d orb.OrbData) error
	UpdateData(ctx context.Context, d orb.OrbData) error
	FetchData(ctx context.Context, id uuid.UUID) (orb.OrbData, error)
	InsertMeta(ctx context.Context, m orb.OrbMeta) (int64, error)
	FetchMeta(ctx context.Context, id uuid.UUID) ([]orb.OrbMeta, error)
}

// Storage is the explicit, struct-based object store service (spec §9
// Design Notes): constructed once in main and shared by reference with the
// RPC and HTTP servers.
type Storage struct {
	store   objectStore
	objects ObjectIDAllocator
	events  EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Storage over store. objects and events may be nil in
// tests that don't exercise handle allocation or event emission.
func New(store objectStore, objects ObjectIDAllocator, events EventPublisher, logger *slog.Logger) *Storage {
	return &Storage{
		store:   store,
		objects: objects,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// PushData stores an object: an absent/zero req.UUID assigns a fresh UUIDv7
// primary key (ordered, collision-resistant, spec §4.6) and inserts; a
// populated req.UUID updates that existing row in place. Either way it
// records a meta event and announces a FileOp_new or FileOp_update
// signaling event accordingly.
func (s *Storage) PushData(ctx context.Context, req orb.PushDataRequest) (orb.PushDataResponse, error) {
	if len(req.Data) == 0 {
		return orb.PushDataResponse{}, fmt.Errorf("missing data")
	}

	id := req.UUID
	isUpdate := id != uuid.Nil
	if !isUpdate {
		newID, err := uuid.NewV7()
		if err != nil {
			return orb.PushDataResponse{}, fmt.Errorf("allocating object id: %w", err)
		}
		id = newID
	}

	dataType := req.DataType
	if dataType == "" {
		dataType = orb.DataSubtypeJSON
	}
	ctime := s.now()

	d := orb.OrbData{
		UUID:       id,
		DataType:   dataType,
		Source:     req.Source,
		ChainLeft:  req.ChainLeft,
		ChainRight: req.ChainRight,
		Parent:     req.Parent,
		CreatedAt:  ctime,
		Flags:      req.Flags,
		Data:       req.Data,
	}
	eventType := signaling.EventFileOpNew
	if isUpdate {
		eventType = signaling.EventFileOpUpdate
		if err := s.store.UpdateData(ctx, d); err != nil {
			return orb.PushDataResponse{}, err
		}
	} else {
		if err := s.store.InsertData(ctx, d); err != nil {
			return orb.PushDataResponse{}, err
		}
	}

	handle, err := s.allocateHandle(ctx)
	if err != nil {
		return orb.PushDataResponse{}, err
	}

	meta := orb.OrbMeta{UUID: id, DataType: dataType, CreatedAt: ctime, Flags: req.Flags, Handle: handle}
	if _, err := s.store.InsertMeta(ctx, meta); err != nil {
		return orb.PushDataResponse{}, err
	}

	s.announce(ctx, eventType, id, handle)

	return orb.PushDataResponse{UUID: id, Handle: handle}, nil
}

// PushMeta appends a lifecycle event for an already-stored object, without
// touching its data (e.g. a flag change or an external mutation notice).
func (s *Storage) PushMeta(ctx context.Context, req orb.PushMetaRequest) (int64, error) {
	existing, err := s.store.FetchData(ctx, req.UUID)
	if err != nil {
		return 0, fmt.Errorf("fetching object for meta update: %w", err)
	}

	handle, err := s.allocateHandle(ctx)
	if err != nil {
		return 0, err
	}

	meta := orb.OrbMeta{UUID: req.UUID, DataType: existing.DataType, CreatedAt: s.now(), Flags: req.Flags, Handle: handle}
	id, err := s.store.InsertMeta(ctx, meta)
	if err != nil {
		return 0, err
	}

	s.announce(ctx, signaling.EventFileOpUpdate, req.UUID, handle)
	return id, nil
}

// FetchData retrieves a stored object by id.
func (s *Storage) FetchData(ctx context.Context, id uuid.UUID) (orb.OrbData, error) {
	return s.store.FetchData(ctx, id)
}

// FetchMeta retrieves an object's lifecycle history.
func (s *Storage) FetchMeta(ctx context.Context, id uuid.UUID) ([]orb.OrbMeta, error) {
	return s.store.FetchMeta(ctx, id)
}

func (s *Storage) allocateHandle(ctx context.Context) (int64, error) {
	if s.objects == nil {
		return 0, nil
	}
	handle, err := s.objects.NextObjectID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocating handle: %w", err)
	}
	return handle, nil
}

// announce publishes a signaling event for a data-level mutation, with
// payload {id, uuid} and tag "orb" (spec §4.6, §8 scenario 5). Failures are
// logged, not returned: the mutation already committed, and a missed
// notification doesn't invalidate it.
func (s *Storage) announce(ctx context.Context, eventType string, id uuid.UUID, handle int64) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"id": handle, "uuid": id.String()})
	if err != nil {
		s.logger.Error("encoding orb event payload", "error", err)
		return
	}
	_, err = s.events.Push(ctx, signaling.PushRequest{
		EventType: eventType,
		Message:   payload,
		Affected:  []string{id.String()},
		Tags:      []string{"orb"},
		Source:    "orb",
	})
	if err != nil {
		s.logger.Warn("publishing orb event failed", "error", err, "uuid", id)
	}
}
