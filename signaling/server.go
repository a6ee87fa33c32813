package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"command-center-vms-cctv/be/auth"
	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/logging"
	"command-center-vms-cctv/be/middleware"
	"command-center-vms-cctv/be/registry"
	"command-center-vms-cctv/be/streaming"
)

// clientMessage is the client->server envelope (SPEC_FULL.md 4.8):
// "start-stream", "answer", "ice-candidate", "stop".
type clientMessage struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// serverMessage is the server->client envelope: "offer", "ice-candidate",
// "error", "ended".
type serverMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	Candidate any    `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server is the Signaling process's HTTP/WebSocket front end: one Room
// per camera, a JWT-gated /ws/{camera_id} entrypoint, and the
// best-effort /health and /snapshot endpoints.
type Server struct {
	cfg    *config.Config
	api    *webrtc.API
	reg    *registry.Registry
	bridge *streaming.Bridge
	log    zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewServer(cfg *config.Config, reg *registry.Registry, bus *events.Bus, baseLog zerolog.Logger) *Server {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		panic(err)
	}

	settingEngine := webrtc.SettingEngine{}
	_ = settingEngine.SetEphemeralUDPPortRange(cfg.WebRTC.UDPPortMin, cfg.WebRTC.UDPPortMax)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	srv := &Server{
		cfg:   cfg,
		api:   api,
		reg:   reg,
		log:   logging.Component(baseLog, "signaling"),
		rooms: make(map[string]*Room),
	}
	if bus != nil {
		srv.bridge = streaming.NewBridge(bus, func(id string) streaming.Room { return srv.RoomFor(id) })
	}
	return srv
}

// RoomFor returns (creating if needed) the Room for a camera and, the
// first time, attaches it to the NATS packet bridge so the matching
// Camera Worker process's encoded stream starts flowing in.
func (srv *Server) RoomFor(cameraID string) *Room {
	srv.mu.Lock()
	r, ok := srv.rooms[cameraID]
	if !ok {
		r = NewRoom(cameraID, srv.api, logging.WithCamera(srv.log, cameraID))
		srv.rooms[cameraID] = r
	}
	srv.mu.Unlock()

	if !ok && srv.bridge != nil {
		if err := srv.bridge.Attach(cameraID); err != nil {
			srv.log.Warn().Err(err).Str("camera_id", cameraID).Msg("signaling: bridge attach failed")
		}
	}
	return r
}

// Router builds the gin engine exposing every endpoint in SPEC_FULL.md
// section 6.
func (srv *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", srv.handleHealth)
	router.GET("/snapshot/:camera_id", middleware.RequireViewerToken(srv.cfg.JWT.Secret), srv.handleSnapshot)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/:camera_id", srv.handleWebSocket)

	return router
}

func (srv *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healths := srv.reg.ReadAll(ctx)
	cameras := make([]gin.H, 0, len(healths))
	for _, h := range healths {
		cameras = append(cameras, gin.H{
			"id": h.CameraID, "state": h.State, "fps": h.FPS, "viewers": h.Viewers,
		})
	}

	// Registry unreachable degrades to reporting only rooms this process
	// has itself observed over signaling traffic (SPEC_FULL.md 3
	// Invariant 5), never a failed response.
	if len(cameras) == 0 {
		srv.mu.Lock()
		for id, r := range srv.rooms {
			cameras = append(cameras, gin.H{"id": id, "state": "unknown", "fps": 0, "viewers": r.Count()})
		}
		srv.mu.Unlock()
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "cameras": cameras})
}

func (srv *Server) handleSnapshot(c *gin.Context) {
	cameraID := c.Param("camera_id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	jpeg, ok := srv.reg.ReadSnapshot(ctx, cameraID)
	if !ok {
		// Best effort (SPEC_FULL.md 6): an empty body during Connecting,
		// never an error status that would make a caller retry-storm.
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

func (srv *Server) handleWebSocket(c *gin.Context) {
	cameraID := c.Param("camera_id")
	log := logging.WithCamera(srv.log, cameraID)

	token := auth.TokenFromHeader(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		token = auth.TokenFromSubprotocol(c.GetHeader("Sec-WebSocket-Protocol"))
	}
	if srv.cfg.JWT.Secret != "" {
		if _, err := auth.ValidateViewerToken(srv.cfg.JWT.Secret, token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing viewer token"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("signaling: websocket upgrade failed")
		return
	}
	defer conn.Close()

	room := srv.RoomFor(cameraID)
	sessionID := fmt.Sprintf("%s-%d", cameraID, time.Now().UnixNano())

	var session *Session
	var mu sync.Mutex

	writeErr := func(reason string) {
		_ = conn.WriteJSON(serverMessage{Type: "error", Reason: reason})
	}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "start-stream":
			s, err := room.Join(sessionID)
			if err != nil {
				writeErr(err.Error())
				continue
			}
			mu.Lock()
			session = s
			mu.Unlock()

			s.PeerConnection().OnICECandidate(func(cand *webrtc.ICECandidate) {
				if cand == nil {
					return
				}
				_ = conn.WriteJSON(serverMessage{Type: "ice-candidate", Candidate: cand.ToJSON()})
			})
			s.PeerConnection().OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
				if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
					_ = conn.WriteJSON(serverMessage{Type: "ended", Reason: state.String()})
				}
			})

			offer, err := s.PeerConnection().CreateOffer(nil)
			if err != nil {
				writeErr(err.Error())
				continue
			}
			if err := s.PeerConnection().SetLocalDescription(offer); err != nil {
				writeErr(err.Error())
				continue
			}
			_ = conn.WriteJSON(serverMessage{Type: "offer", SDP: offer.SDP})

		case "answer":
			mu.Lock()
			s := session
			mu.Unlock()
			if s == nil {
				writeErr("no active session")
				continue
			}
			answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
			if err := s.PeerConnection().SetRemoteDescription(answer); err != nil {
				writeErr(err.Error())
			}

		case "ice-candidate":
			mu.Lock()
			s := session
			mu.Unlock()
			if s == nil {
				continue
			}
			var cand webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &cand); err != nil {
				continue
			}
			if err := s.PeerConnection().AddICECandidate(cand); err != nil {
				log.Warn().Err(err).Msg("signaling: add ice candidate failed")
			}

		case "stop":
			room.Leave(sessionID)
			_ = conn.WriteJSON(serverMessage{Type: "ended", Reason: "client requested stop"})
		}
	}

	room.Leave(sessionID)
}
