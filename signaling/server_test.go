package signaling

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/registry"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{}
	cfg.WebRTC.UDPPortMin = 40000
	cfg.WebRTC.UDPPortMax = 40010

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	reg := registry.New(mr.Addr())

	srv := NewServer(cfg, reg, nil, zerolog.Nop())
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return srv, hs
}

func TestHealthEndpointDegradesWithEmptyRegistry(t *testing.T) {
	_, hs := testServer(t)

	resp, err := http.Get(hs.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshotReturnsNoContentWithoutRegistryWrite(t *testing.T) {
	srv, hs := testServer(t)
	_ = srv.RoomFor("cam-1") // ensure the room exists without a registry write

	resp, err := http.Get(hs.URL + "/snapshot/cam-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWebSocketStartStreamReceivesOffer(t *testing.T) {
	_, hs := testServer(t)
	wsURL := "ws" + hs.URL[len("http"):] + "/ws/cam-1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "start-stream"}))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "offer", msg.Type)
	assert.NotEmpty(t, msg.SDP)
}
