// Package streaming bridges a Camera Worker process to the Signaling
// process over the shared NATS connection (SPEC_FULL.md 2, 4.7, 4.8):
// encoded VP8 packets flow worker -> signaling on a per-camera subject,
// and keyframe requests triggered by viewer RTCP PLI/FIR flow back
// signaling -> worker on the mirror subject. The two processes never
// share memory; NATS is the only wire between them, reusing the same
// connection the Event Bus already holds rather than opening a second.
package streaming

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"command-center-vms-cctv/be/encode"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/model"
)

func packetSubject(cameraID string) string   { return "vms.packets." + cameraID }
func keyframeSubject(cameraID string) string { return "vms.keyframe." + cameraID }

// NATSSink implements worker.PacketSink by publishing each encoded
// packet to the camera's packet subject and listening for keyframe
// requests echoed back from the Signaling process.
type NATSSink struct {
	bus      *events.Bus
	cameraID string
	reqCh    chan struct{}
	sub      *nats.Subscription
}

// NewNATSSink subscribes to the keyframe-request mirror subject and
// returns a ready-to-use worker.PacketSink for one camera.
func NewNATSSink(bus *events.Bus, cameraID string) (*NATSSink, error) {
	s := &NATSSink{bus: bus, cameraID: cameraID, reqCh: make(chan struct{}, 1)}
	sub, err := bus.SubscribeRaw(keyframeSubject(cameraID), func(*nats.Msg) {
		select {
		case s.reqCh <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("streaming: subscribe keyframe requests: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *NATSSink) Close() { _ = s.sub.Unsubscribe() }

func (s *NATSSink) Publish(_ model.Frame, pkt encode.Packet) {
	_ = s.bus.PublishRaw(packetSubject(s.cameraID), encodePacket(pkt))
}

func (s *NATSSink) RequestKeyframe() <-chan struct{} { return s.reqCh }

// Bridge runs in the Signaling process: it subscribes to every camera's
// packet subject as Rooms are created and relays keyframe requests the
// other way.
type Bridge struct {
	bus     *events.Bus
	roomFor func(cameraID string) Room

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Room is the subset of signaling.Room the bridge needs, kept narrow so
// this package doesn't import signaling (which would cycle back through
// worker.PacketSink's camera-worker use of this package).
type Room interface {
	Publish(model.Frame, encode.Packet)
	RequestKeyframe() <-chan struct{}
}

func NewBridge(bus *events.Bus, roomFor func(cameraID string) Room) *Bridge {
	return &Bridge{bus: bus, roomFor: roomFor, subs: make(map[string]*nats.Subscription)}
}

// Attach subscribes to cameraID's packet subject and starts relaying its
// room's keyframe requests back to the worker. Idempotent per camera.
func (br *Bridge) Attach(cameraID string) error {
	br.mu.Lock()
	_, exists := br.subs[cameraID]
	br.mu.Unlock()
	if exists {
		return nil
	}
	room := br.roomFor(cameraID)

	sub, err := br.bus.SubscribeRaw(packetSubject(cameraID), func(msg *nats.Msg) {
		pkt, err := decodePacket(cameraID, msg.Data)
		if err != nil {
			return
		}
		room.Publish(model.Frame{CameraID: cameraID}, pkt)
	})
	if err != nil {
		return fmt.Errorf("streaming: attach %s: %w", cameraID, err)
	}
	br.mu.Lock()
	br.subs[cameraID] = sub
	br.mu.Unlock()

	go func() {
		for range room.RequestKeyframe() {
			_ = br.bus.PublishRaw(keyframeSubject(cameraID), nil)
		}
	}()

	return nil
}

// wire format: [1 byte keyframe][8 bytes frame index][8 bytes unix
// nanos][payload]. No length prefix needed: NATS already frames the
// message boundary.
func encodePacket(pkt encode.Packet) []byte {
	out := make([]byte, 1+8+8+len(pkt.Data))
	if pkt.Keyframe {
		out[0] = 1
	}
	binary.BigEndian.PutUint64(out[1:9], pkt.FrameIndex)
	binary.BigEndian.PutUint64(out[9:17], uint64(pkt.Timestamp.UnixNano()))
	copy(out[17:], pkt.Data)
	return out
}

func decodePacket(cameraID string, data []byte) (encode.Packet, error) {
	if len(data) < 17 {
		return encode.Packet{}, fmt.Errorf("streaming: short packet frame")
	}
	return encode.Packet{
		CameraID:   cameraID,
		Keyframe:   data[0] == 1,
		FrameIndex: binary.BigEndian.Uint64(data[1:9]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(data[9:17]))),
		Data:       append([]byte(nil), data[17:]...),
	}, nil
}
