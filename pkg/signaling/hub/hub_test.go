package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicornparson/lunaricorn/pkg/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type storedEvent struct {
	eventType string
	payload   json.RawMessage
	affected  []string
	tags      []string
	owner     string
	ctime     time.Time
}

// fakeStore is an in-memory stand-in for Store, letting hub logic be tested
// without a database.
type fakeStore struct {
	events      []storedEvent
	nextEID     int64
	browseResp  []signaling.Event
	browseErr   error
	distinct    map[string][]string
	distinctErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{distinct: map[string][]string{}}
}

func (f *fakeStore) CreateEvent(_ context.Context, eventType string, payload json.RawMessage, affected, tags []string, owner string, ctime time.Time) (int64, error) {
	f.nextEID++
	f.events = append(f.events, storedEvent{eventType, payload, affected, tags, owner, ctime})
	return f.nextEID, nil
}

func (f *fakeStore) Browse(_ context.Context, req signaling.BrowseRequest) ([]signaling.Event, error) {
	if err := validateFilterStrings(req.EventTypes, req.Sources, req.Affected, req.Tags); err != nil {
		return nil, err
	}
	return f.browseResp, f.browseErr
}

func (f *fakeStore) ListDistinct(_ context.Context, column string) ([]string, error) {
	return f.distinct[column], f.distinctErr
}

func (f *fakeStore) ListDistinctTags(_ context.Context) ([]string, error) {
	return f.distinct["tags"], f.distinctErr
}

func (f *fakeStore) ListDistinctAffected(_ context.Context) ([]string, error) {
	return f.distinct["affected"], f.distinctErr
}

func newTestHub(store eventStore, now time.Time) *Hub {
	h := New(store, nil, discardLogger(), Config{SubscriberTimeout: 30})
	h.now = func() time.Time { return now }
	return h
}

func TestHub_PushValidation(t *testing.T) {
	h := newTestHub(newFakeStore(), time.Unix(1000, 0))

	_, err := h.Push(context.Background(), signaling.PushRequest{Message: json.RawMessage(`"x"`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = h.Push(context.Background(), signaling.PushRequest{EventType: "FileOp_new"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestHub_PushAssignsEIDAndDefaultsOwner(t *testing.T) {
	store := newFakeStore()
	h := newTestHub(store, time.Unix(1000, 0))

	resp, err := h.Push(context.Background(), signaling.PushRequest{
		EventType: "FileOp_new",
		Message:   json.RawMessage(`{"k":"v"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, int64(1), resp.EID)

	require.Len(t, store.events, 1)
	assert.Equal(t, signaling.OwnerlessSource, store.events[0].owner)
}

func TestHub_PushHonorsExplicitTimestamp(t *testing.T) {
	store := newFakeStore()
	h := newTestHub(store, time.Unix(1000, 0))

	explicit := int64(500)
	_, err := h.Push(context.Background(), signaling.PushRequest{
		EventType: "FileOp_new",
		Message:   json.RawMessage(`{}`),
		Timestamp: &explicit,
	})
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, time.Unix(explicit, 0).UTC(), store.events[0].ctime)
}

func TestHub_PushSurvivesPublishFailureWithoutRedis(t *testing.T) {
	// redis is nil in newTestHub; Push must still succeed since the event is
	// already durably persisted before publish is attempted.
	store := newFakeStore()
	h := newTestHub(store, time.Unix(1000, 0))

	resp, err := h.Push(context.Background(), signaling.PushRequest{
		EventType: "FileOp_new",
		Message:   json.RawMessage(`{}`),
		Source:    "orb",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
}

func TestHub_HeartbeatValidation(t *testing.T) {
	h := newTestHub(newFakeStore(), time.Unix(1000, 0))
	err := h.Heartbeat(signaling.HeartbeatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestHub_ClientStatsPrunesStaleEntries(t *testing.T) {
	store := newFakeStore()
	h := newTestHub(store, time.Unix(1000, 0))

	require.NoError(t, h.Heartbeat(signaling.HeartbeatRequest{ClientID: "alive"}))

	h.mu.Lock()
	h.clients["stale"] = 900 // older than subscriberTimeout(30) before cutoff 1000-30=970
	h.mu.Unlock()

	stats := h.ClientStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "alive", stats[0].ClientID)
}

func TestHub_BrowseDelegatesToStore(t *testing.T) {
	store := newFakeStore()
	store.browseResp = []signaling.Event{{EID: 1, Type: "FileOp_new"}}
	h := newTestHub(store, time.Unix(1000, 0))

	events, err := h.Browse(context.Background(), signaling.BrowseRequest{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].EID)
}

func TestHub_ListHelpersDelegateToExpectedColumns(t *testing.T) {
	store := newFakeStore()
	store.distinct["type"] = []string{"FileOp_new"}
	store.distinct["owner"] = []string{"orb"}
	store.distinct["tags"] = []string{"urgent"}
	store.distinct["affected"] = []string{"obj-1"}
	h := newTestHub(store, time.Unix(1000, 0))

	types, err := h.ListEventTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"FileOp_new"}, types)

	owners, err := h.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orb"}, owners)

	tags, err := h.ListTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent"}, tags)

	affected, err := h.ListAffected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"obj-1"}, affected)
}
