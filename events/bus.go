// Package events implements the internal Event Bus (SPEC_FULL.md 4.10):
// a NATS connection shared by every Camera Worker goroutine, used to
// carry recognition telemetry and unknown-face discoveries to the
// Control Plane Collaborator without ever blocking the hot recognition
// path on Control Plane latency.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"command-center-vms-cctv/be/controlplane"
	"command-center-vms-cctv/be/model"
)

const (
	SubjectRecognition = "vms.recognition"
	SubjectUnknown     = "vms.unknown"
	SubjectEvent       = "vms.event"
)

// Bus wraps a *nats.Conn with non-blocking Publish semantics: a full
// internal buffer drops the message rather than stalling the caller,
// deliberately mirroring the Frame Bus's drop-oldest philosophy (a
// recognition log is recency-valuable, not archival).
type Bus struct {
	nc  *nats.Conn
	log zerolog.Logger
}

func Connect(url string, log zerolog.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	return &Bus{nc: nc, log: log}, nil
}

func (b *Bus) Close() { b.nc.Close() }

// PublishRaw sends an already-encoded payload under subject, bypassing
// the JSON marshal step Publish uses — the streaming package rides this
// for binary video packets, sharing the one NATS connection a process
// holds rather than opening a second.
func (b *Bus) PublishRaw(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// SubscribeRaw registers handler for subject on the shared connection.
func (b *Bus) SubscribeRaw(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, handler)
}

// Publish marshals payload and publishes it under subject. NATS publish
// is itself non-blocking (buffered client-side), so no additional
// queueing is required here; a publish error (e.g. max pending bytes
// exceeded) is logged and dropped, never returned to the hot path.
func (b *Bus) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("events: marshal failed")
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("events: publish dropped")
	}
}

// RecognitionEvent is the payload carried on SubjectRecognition.
type RecognitionEvent struct {
	CameraID   string    `json:"camera_id"`
	WallClock  time.Time `json:"wall_clock"`
	PersonID   string    `json:"person_id,omitempty"`
	Similarity float64   `json:"similarity"`
	FrameRef   uint64    `json:"frame_ref"`
}

// UnknownEvent is the payload carried on SubjectUnknown.
type UnknownEvent struct {
	CameraID      string    `json:"camera_id"`
	WallClock     time.Time `json:"wall_clock"`
	CropPNGBase64 string    `json:"crop_png_base64"`
	Embedding     []float32 `json:"embedding"`
	Quality       float64   `json:"quality"`
}

// LifecycleEvent is the payload carried on SubjectEvent.
type LifecycleEvent struct {
	CameraID  string    `json:"camera_id"`
	WallClock time.Time `json:"wall_clock"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// Relay subscribes to all three subjects and forwards each message to
// the Control Plane Collaborator, isolating the hot recognition path
// (which only ever calls Bus.Publish) from Control Plane latency or
// downtime entirely.
type Relay struct {
	bus *Bus
	cp  *controlplane.Client
	log zerolog.Logger
}

func NewRelay(bus *Bus, cp *controlplane.Client, log zerolog.Logger) *Relay {
	return &Relay{bus: bus, cp: cp, log: log}
}

// Start subscribes and forwards until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	subRecognition, err := r.bus.nc.Subscribe(SubjectRecognition, r.onRecognition)
	if err != nil {
		return fmt.Errorf("events: subscribe recognition: %w", err)
	}
	subUnknown, err := r.bus.nc.Subscribe(SubjectUnknown, r.onUnknown)
	if err != nil {
		return fmt.Errorf("events: subscribe unknown: %w", err)
	}
	subEvent, err := r.bus.nc.Subscribe(SubjectEvent, r.onEvent)
	if err != nil {
		return fmt.Errorf("events: subscribe event: %w", err)
	}

	<-ctx.Done()
	_ = subRecognition.Unsubscribe()
	_ = subUnknown.Unsubscribe()
	_ = subEvent.Unsubscribe()
	return ctx.Err()
}

func (r *Relay) onRecognition(msg *nats.Msg) {
	var e RecognitionEvent
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		r.log.Error().Err(err).Msg("events: bad recognition payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := model.FaceRecord{PersonID: e.PersonID, Similarity: e.Similarity, IsUnknown: e.PersonID == ""}
	if err := r.cp.PostRecognition(ctx, e.CameraID, rec, e.WallClock, e.FrameRef); err != nil {
		r.log.Warn().Err(err).Str("camera_id", e.CameraID).Msg("events: recognition post failed")
	}
}

func (r *Relay) onUnknown(msg *nats.Msg) {
	var e UnknownEvent
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		r.log.Error().Err(err).Msg("events: bad unknown payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cp.PostUnknown(ctx, e.CameraID, e.WallClock, e.CropPNGBase64, e.Embedding, e.Quality); err != nil {
		r.log.Warn().Err(err).Str("camera_id", e.CameraID).Msg("events: unknown post failed")
	}
}

func (r *Relay) onEvent(msg *nats.Msg) {
	var e LifecycleEvent
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		r.log.Error().Err(err).Msg("events: bad lifecycle payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cp.PostEvent(ctx, e.CameraID, e.Kind, e.Detail); err != nil {
		r.log.Warn().Err(err).Str("camera_id", e.CameraID).Msg("events: event post failed")
	}
}
