package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicornparson/lunaricorn/pkg/orb"
	"github.com/unicornparson/lunaricorn/pkg/orb/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for storage.Store, satisfying the
// unexported objectStore seam via the package's own storage.New constructor.
type fakeStore struct {
	data map[uuid.UUID]orb.OrbData
	meta map[uuid.UUID][]orb.OrbMeta
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[uuid.UUID]orb.OrbData{}, meta: map[uuid.UUID][]orb.OrbMeta{}}
}

func (f *fakeStore) InsertData(_ context.Context, d orb.OrbData) error {
	f.data[d.UUID] = d
	return nil
}

func (f *fakeStore) UpdateData(_ context.Context, d orb.OrbData) error {
	f.data[d.UUID] = d
	return nil
}

func (f *fakeStore) FetchData(_ context.Context, id uuid.UUID) (orb.OrbData, error) {
	d, ok := f.data[id]
	if !ok {
		return orb.OrbData{}, errNotFound
	}
	return d, nil
}

func (f *fakeStore) InsertMeta(_ context.Context, m orb.OrbMeta) (int64, error) {
	f.meta[m.UUID] = append(f.meta[m.UUID], m)
	return int64(len(f.meta[m.UUID])), nil
}

func (f *fakeStore) FetchMeta(_ context.Context, id uuid.UUID) ([]orb.OrbMeta, error) {
	return f.meta[id], nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

var errNotFound = notFoundError("not found")

func newTestHTTPServer() (*HTTPServer, *fakeStore) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	return NewHTTPServer(svc, discardLogger(), NewMetrics()), store
}

func TestHTTPServer_PushDataRoundTrip(t *testing.T) {
	h, _ := newTestHTTPServer()
	body, _ := json.Marshal(orb.PushDataRequest{Data: json.RawMessage(`{"k":"v"}`)})

	req := httptest.NewRequest(http.MethodPost, "/v1/push_data", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp orb.PushDataResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.UUID)
}

func TestHTTPServer_FetchDataNotFound(t *testing.T) {
	h, _ := newTestHTTPServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/fetch_data/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPServer_FetchDataInvalidUUID(t *testing.T) {
	h, _ := newTestHTTPServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/fetch_data/not-a-uuid", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServer_FetchDataReturnsPushedObject(t *testing.T) {
	h, _ := newTestHTTPServer()

	pushBody, _ := json.Marshal(orb.PushDataRequest{Data: json.RawMessage(`{"k":"v"}`)})
	pushReq := httptest.NewRequest(http.MethodPost, "/v1/push_data", bytes.NewReader(pushBody))
	pushW := httptest.NewRecorder()
	h.Routes().ServeHTTP(pushW, pushReq)
	require.Equal(t, http.StatusOK, pushW.Code)

	var pushResp orb.PushDataResponse
	require.NoError(t, json.Unmarshal(pushW.Body.Bytes(), &pushResp))

	fetchReq := httptest.NewRequest(http.MethodGet, "/v1/fetch_data/"+pushResp.UUID.String(), nil)
	fetchW := httptest.NewRecorder()
	h.Routes().ServeHTTP(fetchW, fetchReq)

	assert.Equal(t, http.StatusOK, fetchW.Code)
}

func TestHTTPServer_PushMetaForUnknownUUIDFails(t *testing.T) {
	h, _ := newTestHTTPServer()
	body, _ := json.Marshal(orb.PushMetaRequest{UUID: uuid.New()})

	req := httptest.NewRequest(http.MethodPost, "/v1/push_meta", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHTTPServer_Health(t *testing.T) {
	h, _ := newTestHTTPServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRPCService_PushDataBase64RoundTrips(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	raw := []byte{0x00, 0x07, 0x1b, 0xff, '\n', '\t'}
	var reply RawPushDataReply
	err := rpcSvc.PushData(RawPushDataArgs{Source: "legacy", Data: raw}, &reply)
	require.NoError(t, err)

	id, err := uuid.Parse(reply.UUID)
	require.NoError(t, err)

	stored := store.data[id]
	assert.Equal(t, orb.DataSubtypeRaw, stored.DataType)

	var decoded []byte
	require.NoError(t, json.Unmarshal(stored.Data, &decoded))
	assert.Equal(t, raw, decoded)
}

func TestRPCService_PushDataRejectsEmptyPayload(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var reply RawPushDataReply
	err := rpcSvc.PushData(RawPushDataArgs{}, &reply)
	require.Error(t, err)
}

func TestRPCService_FetchDataReturnsPayload(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var pushReply orb.PushDataResponse
	require.NoError(t, rpcSvc.PushOrbData(orb.PushDataRequest{
		Source: "legacy",
		Data:   json.RawMessage(`{"k":"v"}`),
	}, &pushReply))

	var fetchReply FetchDataReply
	err := rpcSvc.FetchData(FetchArgs{UUID: pushReply.UUID.String()}, &fetchReply)
	require.NoError(t, err)
	assert.Equal(t, "legacy", fetchReply.Source)
	assert.JSONEq(t, `{"k":"v"}`, string(fetchReply.Data))
}

func TestRPCService_PushMetaRPCRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var pushReply orb.PushDataResponse
	require.NoError(t, rpcSvc.PushOrbData(orb.PushDataRequest{Data: json.RawMessage(`{"k":"v"}`)}, &pushReply))

	var idReply IDReply
	err := rpcSvc.PushMeta(PushMetaArgs{UUID: pushReply.UUID.String(), Flags: []string{"x"}}, &idReply)
	require.NoError(t, err)
	assert.NotZero(t, idReply.ID)
}

func TestRPCService_PushOrbDataAndFetchOrbDataRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var pushReply orb.PushDataResponse
	err := rpcSvc.PushOrbData(orb.PushDataRequest{Data: json.RawMessage(`{"k":"v"}`)}, &pushReply)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, pushReply.UUID)

	var fetched orb.OrbData
	err = rpcSvc.FetchOrbData(FetchArgs{UUID: pushReply.UUID.String()}, &fetched)
	require.NoError(t, err)
	assert.Equal(t, pushReply.UUID, fetched.UUID)
}

func TestRPCService_FetchOrbDataNotFound(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var fetched orb.OrbData
	err := rpcSvc.FetchOrbData(FetchArgs{UUID: uuid.New().String()}, &fetched)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRPCService_PushOrbMetaAndFetchOrbMetaRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var pushReply orb.PushDataResponse
	require.NoError(t, rpcSvc.PushOrbData(orb.PushDataRequest{Data: json.RawMessage(`{"k":"v"}`)}, &pushReply))

	var metaReply IDReply
	err := rpcSvc.PushOrbMeta(orb.PushMetaRequest{UUID: pushReply.UUID, Flags: []string{"reviewed"}}, &metaReply)
	require.NoError(t, err)
	assert.NotZero(t, metaReply.ID)

	var fetched FetchMetaReply
	err = rpcSvc.FetchOrbMeta(FetchArgs{UUID: pushReply.UUID.String()}, &fetched)
	require.NoError(t, err)
	require.Len(t, fetched.Meta, 2) // one from PushOrbData, one from PushOrbMeta
	assert.Equal(t, []string{"reviewed"}, fetched.Meta[1].Flags)
}

func TestRPCService_FetchMetaInvalidUUID(t *testing.T) {
	store := newFakeStore()
	svc := storage.New(store, nil, nil, discardLogger())
	rpcSvc := &RPCService{storage: svc}

	var reply FetchMetaReply
	err := rpcSvc.FetchMeta(FetchArgs{UUID: "not-a-uuid"}, &reply)
	assert.Error(t, err)
}
