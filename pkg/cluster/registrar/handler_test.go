package registrar

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicornparson/lunaricorn/pkg/cluster"
)

func newTestHandler(store nodeStore, cfg Config, now int64) *Handler {
	r := newTestRegistrar(store, cfg, now)
	return NewHandler(r, discardLogger(), NewMetrics())
}

func TestHandler_BeaconRoundTrip(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{AliveTimeout: 60}, 1000)
	body, _ := json.Marshal(cluster.BeaconRequest{NodeName: "orb", NodeType: "orb", InstanceKey: "orb-1"})

	req := httptest.NewRequest(http.MethodPost, "/v1/imalive", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_BeaconValidationFailureReturns500(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{}, 1000)
	body, _ := json.Marshal(cluster.BeaconRequest{})

	req := httptest.NewRequest(http.MethodPost, "/v1/imalive", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_ListReturnsNotReadyUntilRequiredNodesAlive(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{AliveTimeout: 60, RequiredNodes: []string{"orb"}}, 1000)

	req := httptest.NewRequest(http.MethodGet, "/v1/list", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	beaconBody, _ := json.Marshal(cluster.BeaconRequest{NodeName: "orb", NodeType: "orb", InstanceKey: "orb-1"})
	beaconReq := httptest.NewRequest(http.MethodPost, "/v1/imalive", bytes.NewReader(beaconBody))
	beaconW := httptest.NewRecorder()
	h.Routes().ServeHTTP(beaconW, beaconReq)
	require.Equal(t, http.StatusOK, beaconW.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/v1/list", nil)
	w2 := httptest.NewRecorder()
	h.Routes().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)

	var out cluster.ListResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &out))
	assert.Equal(t, 1, out.TotalCount)
}

func TestHandler_ClusterInfoAlwaysAvailable(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{AliveTimeout: 60, RequiredNodes: []string{"orb", "signaling"}}, 1000)

	req := httptest.NewRequest(http.MethodGet, "/v1/clusterinfo", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var info cluster.ClusterInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "off", info.NodesSummary["orb"])
}

func TestHandler_GetMessageIDAndObjectIDAllocateIndependently(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{}, 1000)

	midReq := httptest.NewRequest(http.MethodGet, "/v1/utils/get_mid", nil)
	midW := httptest.NewRecorder()
	h.Routes().ServeHTTP(midW, midReq)
	require.Equal(t, http.StatusOK, midW.Code)

	oidReq := httptest.NewRequest(http.MethodGet, "/v1/utils/get_oid", nil)
	oidW := httptest.NewRecorder()
	h.Routes().ServeHTTP(oidW, oidReq)
	require.Equal(t, http.StatusOK, oidW.Code)

	var mid, oid struct {
		MID int64 `json:"mid"`
		OID int64 `json:"oid"`
	}
	require.NoError(t, json.Unmarshal(midW.Body.Bytes(), &mid))
	require.NoError(t, json.Unmarshal(oidW.Body.Bytes(), &oid))
	assert.Equal(t, int64(1), mid.MID)
	assert.Equal(t, int64(1), oid.OID)
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{}, 1000)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestHandler(newFakeStore(), Config{}, 1000)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
