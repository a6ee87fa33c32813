package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/config"
)

func TestListCameras(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cameras", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]cameraDTO{
			{ID: "cam1", Name: "Lobby", Source: "rtsp", URI: "rtsp://x", FPSLimit: 15, Enabled: true},
		})
	}))
	defer srv.Close()

	c := New(config.ControlPlaneConfig{BaseURL: srv.URL, Timeout: time.Second, RetryCount: 1})
	cams, err := c.ListCameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 1)
	assert.Equal(t, "cam1", cams[0].ID)
	assert.Equal(t, 15, cams[0].FPSLimit)
}

func TestGetRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]cameraDTO{})
	}))
	defer srv.Close()

	c := New(config.ControlPlaneConfig{BaseURL: srv.URL, Timeout: time.Second, RetryCount: 2})
	_, err := c.ListCameras(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestPostUnknownBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/unknowns", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(config.ControlPlaneConfig{BaseURL: srv.URL, Timeout: time.Second})
	err := c.PostUnknown(context.Background(), "cam1", time.Now(), "base64==", []float32{0.1, 0.2}, 0.8)
	require.NoError(t, err)
}
