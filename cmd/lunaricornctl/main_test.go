package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	require.NoError(t, getJSON(srv.URL, &out))
	assert.Equal(t, true, out["ok"])
}

func TestPostJSON_SendsEncodedBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{"status":"received"}`))
	}))
	defer srv.Close()

	var out map[string]any
	require.NoError(t, postJSON(srv.URL, map[string]string{"k": "v"}, &out))
	assert.Equal(t, "received", out["status"])
	assert.Contains(t, gotBody, `"k":"v"`)
}

func TestDecodeOrError_SurfacesServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid request"}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := getJSON(srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
	assert.Contains(t, err.Error(), "400")
}
