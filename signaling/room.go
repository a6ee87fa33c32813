// Package signaling implements the WebRTC Signaling & Session layer
// (SPEC_FULL.md 4.8): one Room per camera multiplexing the camera
// worker's encoded VP8 stream to N independent viewer Sessions, each
// with its own backpressure queue and late-joiner keyframe gate.
package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/rs/zerolog"

	"command-center-vms-cctv/be/encode"
	"command-center-vms-cctv/be/metrics"
	"command-center-vms-cctv/be/model"
)

const (
	sendQueueDepth    = 60               // SPEC_FULL.md 4.8: ~2s at 30fps before backpressure kicks in
	congestedDeadline = 4 * time.Second  // close the session if still over depth after this long
	pliRateLimit      = 500 * time.Millisecond
)

// Room owns all active Sessions for one camera.
type Room struct {
	cameraID string
	api      *webrtc.API
	log      zerolog.Logger

	mu            sync.RWMutex
	sessions      map[string]*Session
	keyframeReqCh chan struct{}
	lastKeyframeReq time.Time
}

func NewRoom(cameraID string, api *webrtc.API, log zerolog.Logger) *Room {
	return &Room{
		cameraID:      cameraID,
		api:           api,
		log:           log,
		sessions:      make(map[string]*Session),
		keyframeReqCh: make(chan struct{}, 1),
	}
}

// RequestKeyframe signals that a viewer asked for a keyframe out of
// band (via RTCP PLI/FIR), rate-limited to one per pliRateLimit. The
// streaming bridge drains this channel and forwards each request to the
// Camera Worker process, which does not act on it: the FFmpeg-subprocess
// encoder has no way to force an out-of-cadence keyframe, so recovery
// happens on the next scheduled keyframe_interval_s boundary.
func (r *Room) RequestKeyframe() <-chan struct{} { return r.keyframeReqCh }

func (r *Room) requestKeyframeRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastKeyframeReq) < pliRateLimit {
		return
	}
	r.lastKeyframeReq = time.Now()
	select {
	case r.keyframeReqCh <- struct{}{}:
	default:
	}
}

// Publish implements worker.PacketSink: fan out one encoded packet to
// every session in the room.
func (r *Room) Publish(_ model.Frame, pkt encode.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics.WebRTCSessions.WithLabelValues(r.cameraID).Set(float64(len(r.sessions)))
	for _, s := range r.sessions {
		s.offer(pkt)
	}
}

// Join creates a new viewer Session, negotiates a PeerConnection, and
// registers it in the room. The caller owns driving the signaling
// message loop against the returned Session.
func (r *Room) Join(sessionID string) (*Session, error) {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("signaling: new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", fmt.Sprintf("cam-%s", r.cameraID),
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("signaling: new track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("signaling: add track: %w", err)
	}

	s := &Session{
		id:       sessionID,
		cameraID: r.cameraID,
		pc:       pc,
		track:    track,
		queue:    make(chan encode.Packet, sendQueueDepth*2),
		waiting:  true,
		log:      r.log,
		room:     r,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.Leave(sessionID)
		}
	})

	go s.drainRTCP(sender)
	go s.run()

	r.mu.Lock()
	r.sessions[sessionID] = s
	r.mu.Unlock()

	return s, nil
}

// Leave tears down and removes a session.
func (r *Room) Leave(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		s.Close("")
	}
}

// Count returns the number of live sessions, used by /health.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Session is one viewer's independent WebRTC peer connection.
type Session struct {
	id       string
	cameraID string
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	log      zerolog.Logger
	room     *Room

	mu           sync.Mutex
	queue        chan encode.Packet
	waiting      bool // true until the first keyframe is forwarded (late-joiner gate)
	congestedAt  time.Time
	closed       bool
}

func (s *Session) PeerConnection() *webrtc.PeerConnection { return s.pc }

// offer enqueues pkt for delivery, applying the late-joiner keyframe
// gate and the backpressure policy from SPEC_FULL.md 4.8.
func (s *Session) offer(pkt encode.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.waiting {
		if !pkt.Keyframe {
			return
		}
		s.waiting = false
	}

	if len(s.queue) >= sendQueueDepth {
		if s.congestedAt.IsZero() {
			s.congestedAt = time.Now()
		}
		if time.Since(s.congestedAt) > congestedDeadline {
			s.log.Warn().Str("session_id", s.id).Msg("signaling: session congested, closing")
			go s.Close("congested")
			return
		}
		if !pkt.Keyframe {
			return // drop non-keyframe packets while over backpressure threshold
		}
		// A keyframe while congested: drain stale queued packets so the
		// viewer catches up from this keyframe instead of playing out a
		// multi-second backlog.
		for len(s.queue) > 0 {
			<-s.queue
		}
		s.congestedAt = time.Time{}
	} else {
		s.congestedAt = time.Time{}
	}

	select {
	case s.queue <- pkt:
	default:
	}
}

func (s *Session) run() {
	for pkt := range s.queue {
		sample := media.Sample{Data: pkt.Data, Duration: 33 * time.Millisecond}
		if err := s.track.WriteSample(sample); err != nil {
			s.log.Warn().Err(err).Str("session_id", s.id).Msg("signaling: write sample failed")
			return
		}
	}
}

func (s *Session) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				s.room.requestKeyframeRateLimited()
			}
		}
	}
}

// Close tears down the session's peer connection. It sends nothing over
// signaling and does not use reason; no caller sends reason to the
// viewer either, so a session closed for congestion is not reported to
// the viewer as "congested".
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	_ = s.pc.Close()
	_ = reason
}
