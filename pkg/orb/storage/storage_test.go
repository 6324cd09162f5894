package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicornparson/lunaricorn/pkg/orb"
	"github.com/unicornparson/lunaricorn/pkg/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for Store.
type fakeStore struct {
	data    map[uuid.UUID]orb.OrbData
	meta    map[uuid.UUID][]orb.OrbMeta
	nextID  int64
	failIns error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[uuid.UUID]orb.OrbData{}, meta: map[uuid.UUID][]orb.OrbMeta{}}
}

func (f *fakeStore) InsertData(_ context.Context, d orb.OrbData) error {
	if f.failIns != nil {
		return f.failIns
	}
	f.data[d.UUID] = d
	return nil
}

func (f *fakeStore) UpdateData(_ context.Context, d orb.OrbData) error {
	if f.failIns != nil {
		return f.failIns
	}
	f.data[d.UUID] = d
	return nil
}

func (f *fakeStore) FetchData(_ context.Context, id uuid.UUID) (orb.OrbData, error) {
	d, ok := f.data[id]
	if !ok {
		return orb.OrbData{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeStore) InsertMeta(_ context.Context, m orb.OrbMeta) (int64, error) {
	f.nextID++
	m.ID = f.nextID
	f.meta[m.UUID] = append(f.meta[m.UUID], m)
	return f.nextID, nil
}

func (f *fakeStore) FetchMeta(_ context.Context, id uuid.UUID) ([]orb.OrbMeta, error) {
	return f.meta[id], nil
}

type fakeAllocator struct {
	next int64
	err  error
}

func (a *fakeAllocator) NextObjectID(_ context.Context) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.next++
	return a.next, nil
}

type fakePublisher struct {
	calls []signaling.PushRequest
	err   error
}

func (p *fakePublisher) Push(_ context.Context, req signaling.PushRequest) (signaling.PushResponse, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return signaling.PushResponse{}, p.err
	}
	return signaling.PushResponse{Status: "success"}, nil
}

func newTestStorage(store objectStore, objects ObjectIDAllocator, events EventPublisher) *Storage {
	s := New(store, objects, events, discardLogger())
	s.now = func() time.Time { return time.Unix(1000, 0).UTC() }
	return s
}

func TestStorage_PushDataRejectsEmptyPayload(t *testing.T) {
	s := newTestStorage(newFakeStore(), nil, nil)
	_, err := s.PushData(context.Background(), orb.PushDataRequest{})
	require.Error(t, err)
}

func TestStorage_PushDataDefaultsToJSONSubtype(t *testing.T) {
	store := newFakeStore()
	s := newTestStorage(store, nil, nil)

	resp, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, orb.DataSubtypeJSON, store.data[resp.UUID].DataType)
}

func TestStorage_PushDataAllocatesHandleWhenAllocatorPresent(t *testing.T) {
	store := newFakeStore()
	alloc := &fakeAllocator{}
	s := newTestStorage(store, alloc, nil)

	resp1, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	resp2, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), resp1.Handle)
	assert.Equal(t, int64(2), resp2.Handle)
}

func TestStorage_PushDataHandleZeroWithoutAllocator(t *testing.T) {
	s := newTestStorage(newFakeStore(), nil, nil)
	resp, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.Handle)
}

func TestStorage_PushDataAnnouncesFileOpNew(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	alloc := &fakeAllocator{}
	s := newTestStorage(store, alloc, pub)

	resp, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, signaling.EventFileOpNew, pub.calls[0].EventType)
	assert.Equal(t, "orb", pub.calls[0].Source)
	assert.Equal(t, []string{"orb"}, pub.calls[0].Tags)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pub.calls[0].Message, &payload))
	assert.Equal(t, resp.UUID.String(), payload["uuid"])
	assert.Equal(t, float64(resp.Handle), payload["id"])
}

func TestStorage_PushDataUpdatesExistingRowWhenUUIDSet(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestStorage(store, nil, pub)

	first, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	second, err := s.PushData(context.Background(), orb.PushDataRequest{
		UUID: first.UUID,
		Data: json.RawMessage(`{"v":2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, first.UUID, second.UUID)
	assert.JSONEq(t, `{"v":2}`, string(store.data[first.UUID].Data))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, signaling.EventFileOpUpdate, pub.calls[1].EventType)
}

func TestStorage_PushDataSurvivesPublishFailure(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("redis down")}
	s := newTestStorage(store, nil, pub)

	resp, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.UUID)
}

func TestStorage_PushMetaReusesExistingDataType(t *testing.T) {
	store := newFakeStore()
	s := newTestStorage(store, nil, nil)

	pushResp, err := s.PushData(context.Background(), orb.PushDataRequest{
		DataType: orb.DataSubtypeRaw,
		Data:     json.RawMessage(`"YWJj"`),
	})
	require.NoError(t, err)

	_, err = s.PushMeta(context.Background(), orb.PushMetaRequest{UUID: pushResp.UUID, Flags: []string{"archived"}})
	require.NoError(t, err)

	metas := store.meta[pushResp.UUID]
	require.Len(t, metas, 2) // initial PushData meta + PushMeta meta
	assert.Equal(t, orb.DataSubtypeRaw, metas[1].DataType)
	assert.Equal(t, []string{"archived"}, metas[1].Flags)
}

func TestStorage_PushMetaFailsForUnknownUUID(t *testing.T) {
	s := newTestStorage(newFakeStore(), nil, nil)
	_, err := s.PushMeta(context.Background(), orb.PushMetaRequest{UUID: uuid.New()})
	require.Error(t, err)
}

func TestStorage_FetchDataAndFetchMetaDelegateToStore(t *testing.T) {
	store := newFakeStore()
	s := newTestStorage(store, nil, nil)

	resp, err := s.PushData(context.Background(), orb.PushDataRequest{Data: json.RawMessage(`{"k":1}`)})
	require.NoError(t, err)

	data, err := s.FetchData(context.Background(), resp.UUID)
	require.NoError(t, err)
	assert.Equal(t, resp.UUID, data.UUID)

	metas, err := s.FetchMeta(context.Background(), resp.UUID)
	require.NoError(t, err)
	require.Len(t, metas, 1)
}
