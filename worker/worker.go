// Package worker implements the Camera Worker (SPEC_FULL.md 4.7): one
// instance owns one camera's end-to-end pipeline (capture -> recognize
// -> unknown admission -> overlay -> encode -> WebRTC fan-out) and
// enforces the Idle/Connecting/Running/Degraded/Failed/Retrying/Closed
// state machine with self-healing restarts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"command-center-vms-cctv/be/capture"
	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/encode"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/framebus"
	"command-center-vms-cctv/be/logging"
	"command-center-vms-cctv/be/metrics"
	"command-center-vms-cctv/be/model"
	"command-center-vms-cctv/be/overlay"
	"command-center-vms-cctv/be/recognitionrpc"
	"command-center-vms-cctv/be/registry"
	"command-center-vms-cctv/be/unknowns"
)

// PacketSink receives encoded VP8 packets for fan-out to WebRTC
// sessions. The signaling package implements this; worker never imports
// signaling to avoid a dependency cycle.
type PacketSink interface {
	Publish(model.Frame, encode.Packet)
	RequestKeyframe() <-chan struct{}
}

type Worker struct {
	cfg      config.Config
	camera   model.Camera
	rpc      *recognitionrpc.Client
	bus      *events.Bus
	reg      *registry.Registry
	sink     PacketSink
	log      zerolog.Logger

	mu          sync.RWMutex
	state       State
	lastErrKind string

	degradedWindow *missRatioWindow
	backoff        Backoff
	lastSnapshotAt time.Time
	unknowns       *unknowns.Policy
}

func New(cfg config.Config, camera model.Camera, rpc *recognitionrpc.Client, bus *events.Bus, reg *registry.Registry, sink PacketSink, baseLog zerolog.Logger) (*Worker, error) {
	policy, err := unknowns.New(camera.ID, cfg.Unknowns)
	if err != nil {
		return nil, fmt.Errorf("worker: new unknowns policy: %w", err)
	}
	return &Worker{
		cfg:            cfg,
		camera:         camera,
		rpc:            rpc,
		bus:            bus,
		reg:            reg,
		sink:           sink,
		log:            logging.WithCamera(logging.Component(baseLog, "worker"), camera.ID),
		state:          Idle,
		degradedWindow: newMissRatioWindow(10 * time.Second),
		unknowns:       policy,
	}, nil
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		metrics.WorkerState.WithLabelValues(w.camera.ID, prev.String()).Set(0)
	}
	metrics.WorkerState.WithLabelValues(w.camera.ID, s.String()).Set(1)
	w.reg.Write(context.Background(), model.WorkerHealth{
		CameraID: w.camera.ID, State: s.String(), LastTransition: time.Now(),
		LastErrorKind: w.lastErrKind,
	})
	w.log.Info().Str("state", s.String()).Msg("worker: state transition")
}

// Run drives the worker's full lifecycle until ctx is cancelled
// (Closed) or a fatal error is classified. It never returns early on a
// transient error: it loops Connecting -> Running -> Failed -> Retrying
// until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(Connecting)
	for {
		if ctx.Err() != nil {
			w.setState(Closed)
			return ctx.Err()
		}

		err := w.runOnce(ctx)
		if err == nil {
			w.setState(Closed)
			return nil
		}

		kind := errorKind(err)
		w.lastErrKind = kind
		w.log.Error().Err(err).Str("kind", kind).Msg("worker: pipeline instance ended")

		if Classify(kind) == KindFatal {
			w.setState(Failed)
			w.setState(Closed)
			w.bus.Publish(events.SubjectEvent, events.LifecycleEvent{
				CameraID: w.camera.ID, WallClock: time.Now(), Kind: kind, Detail: err.Error(),
			})
			return &Error{Kind: kind, Err: err}
		}

		w.setState(Failed)
		delay := w.backoff.Next()
		w.setState(Retrying)
		select {
		case <-ctx.Done():
			w.setState(Closed)
			return ctx.Err()
		case <-time.After(delay):
		}
		w.setState(Connecting)
	}
}

// sustainedRunningResetDelay is how long a pipeline instance must stay
// up before a prior failure streak is forgiven. Without this, a camera
// that flaps occasionally but mostly runs fine would see its
// Failed->Retrying backoff keep growing across unrelated incidents
// instead of resetting once it's proven stable again.
const sustainedRunningResetDelay = 60 * time.Second

func (w *Worker) resetBackoffAfterSustainedRunning(ctx context.Context) {
	select {
	case <-time.After(sustainedRunningResetDelay):
		w.backoff.Reset()
	case <-ctx.Done():
	}
}

// Error is the fatal-termination error surfaced to the supervisor.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("worker: fatal %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func errorKind(err error) string {
	var ce *capture.Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ee *encode.Error
	if errors.As(err, &ee) {
		return "EncodeError"
	}
	return "StreamLost"
}

// runOnce runs a single Connecting->Running(->Degraded)->terminal
// pipeline instance. Frame indices reset to 0 at the start of each
// instance (SPEC_FULL.md glossary: "Pipeline instance").
func (w *Worker) runOnce(ctx context.Context) error {
	instanceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := capture.Open(instanceCtx, w.camera)
	if err != nil {
		return err
	}

	decodeBus := framebus.New[model.Frame](w.camera.ID, "decode", w.cfg.FrameBus.Capacity)
	overlayStage := overlay.NewStage(w.camera.ID, time.Duration(w.cfg.Overlay.DeadlineMs)*time.Millisecond)

	enc, err := encode.New(w.camera.ID, 1280, 720, w.camera.FPSLimit, w.cfg.Encode.TargetBitrateKbps, w.cfg.Encode.KeyframeIntervalS)
	if err != nil {
		return err
	}
	defer enc.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(instanceCtx, decodeBus); err != nil {
			errs <- err
		}
		decodeBus.Close()
	}()

	firstFrame := make(chan struct{})
	var once sync.Once

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := w.pipelineLoop(instanceCtx, decodeBus, overlayStage, enc, func() { once.Do(func() { close(firstFrame) }) }); err != nil {
			errs <- err
		}
	}()

	select {
	case <-firstFrame:
		w.setState(Running)
		go w.resetBackoffAfterSustainedRunning(instanceCtx)
	case <-instanceCtx.Done():
	}

	wg.Wait()
	close(errs)

	for e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// pipelineLoop pulls decoded frames at decode speed, dispatches each to
// an independent recognition task, applies whatever overlay result has
// arrived by the deadline, and pushes to the encoder. Recognition runs
// on its own goroutine over a small dispatch channel so a slow or
// stalled recognitiond never blocks decode->overlay->encode
// (SPEC_FULL.md 2, 4.5, 4.7, 9): a full channel just drops that frame's
// recognition request and the frame passes through unannotated.
func (w *Worker) pipelineLoop(ctx context.Context, decodeBus *framebus.Bus[model.Frame], ov *overlay.Stage, enc *encode.Encoder, onFirstFrame func()) error {
	go w.drainEncoder(ctx, enc)

	recognizeCh := make(chan model.Frame, 2)
	go w.recognitionLoop(ctx, recognizeCh, ov)
	defer close(recognizeCh)

	for {
		frame, ok := decodeBus.Pop()
		if !ok {
			return nil
		}
		onFirstFrame()

		select {
		case recognizeCh <- frame:
		default:
			metrics.RecognitionDispatchDropped.WithLabelValues(w.camera.ID).Inc()
		}

		annotated, missed, err := ov.Apply(frame)
		if err != nil {
			return err
		}
		ov.Sweep(frame.Index)

		w.degradedWindow.record(missed)
		w.updateDegradedState()
		w.maybeWriteSnapshot(annotated)

		if err := enc.Push(annotated); err != nil {
			return err
		}
	}
}

// recognitionLoop is the independent recognition task: it serializes
// this camera's Recognize calls one at a time, off the decode path.
func (w *Worker) recognitionLoop(ctx context.Context, recognizeCh <-chan model.Frame, ov *overlay.Stage) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-recognizeCh:
			if !ok {
				return
			}
			w.requestRecognition(ctx, frame, ov)
		}
	}
}

// maybeWriteSnapshot refreshes the cached /snapshot JPEG at most once a
// second — encoding every frame would burn CPU the hot path can't spare
// for a best-effort debugging endpoint.
func (w *Worker) maybeWriteSnapshot(frame model.Frame) {
	if time.Since(w.lastSnapshotAt) < time.Second {
		return
	}
	w.lastSnapshotAt = time.Now()
	jpeg, err := overlay.EncodeJPEG(frame)
	if err != nil {
		return
	}
	w.reg.WriteSnapshot(context.Background(), w.camera.ID, jpeg)
}

func (w *Worker) requestRecognition(ctx context.Context, frame model.Frame, ov *overlay.Stage) {
	rpcCtx, cancel := context.WithTimeout(ctx, w.cfg.Recognition.HardTimeout)
	defer cancel()

	start := time.Now()
	reply, err := w.rpc.Recognize(rpcCtx, &recognitionrpc.RecognizeRequest{
		CameraID: frame.CameraID, FrameIndex: frame.Index,
		Width: frame.Width, Height: frame.Height, PixelFormat: frame.PixelFormat,
		Pixels: frame.Pixels,
	})
	metrics.RecognitionLatencySeconds.WithLabelValues(w.camera.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		w.log.Warn().Err(err).Uint64("frame_index", frame.Index).Msg("worker: recognition rpc failed")
		return
	}

	ov.Submit(model.RecognitionResult{
		CameraID: frame.CameraID, FrameIndex: frame.Index,
		Faces: reply.Faces, IndexVersion: reply.IndexVersion, Partial: reply.Partial,
	})

	for _, face := range reply.Faces {
		w.bus.Publish(events.SubjectRecognition, events.RecognitionEvent{
			CameraID: frame.CameraID, WallClock: time.Now(),
			PersonID: face.PersonID, Similarity: face.Similarity, FrameRef: frame.Index,
		})
		if face.IsUnknown {
			w.observeUnknown(frame, face)
		}
	}
}

// observeUnknown feeds an unmatched face into the per-camera Unknown
// Admission Policy and, on admission, publishes the candidate crop for
// the Control Plane Collaborator to review (SPEC_FULL.md 4.4).
func (w *Worker) observeUnknown(frame model.Frame, face model.FaceRecord) {
	admission := w.unknowns.Observe(face.Embedding, face.Quality, face.Box.W, face.Box.H, time.Now())
	if !admission.Admitted {
		return
	}
	crop, err := overlay.EncodeCropPNGBase64(frame, face.Box)
	if err != nil {
		w.log.Warn().Err(err).Msg("worker: unknown crop encode failed")
		return
	}
	w.bus.Publish(events.SubjectUnknown, events.UnknownEvent{
		CameraID: frame.CameraID, WallClock: time.Now(),
		CropPNGBase64: crop, Embedding: admission.Embedding, Quality: admission.Quality,
	})
}

func (w *Worker) updateDegradedState() {
	ratio := w.degradedWindow.ratio()
	switch w.State() {
	case Running:
		if ratio > 0.30 {
			w.setState(Degraded)
		}
	case Degraded:
		if ratio < 0.10 {
			w.setState(Running)
		}
	}
}

func (w *Worker) drainEncoder(ctx context.Context, enc *encode.Encoder) {
	var lastSize int
	var lastAt = time.Now()
	for {
		pkt, err := enc.Next()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		lastSize += len(pkt.Data)
		if elapsed := time.Since(lastAt); elapsed >= time.Second {
			kbps := float64(lastSize*8) / 1000 / elapsed.Seconds()
			metrics.EncodeBitrateKbps.WithLabelValues(w.camera.ID).Set(kbps)
			lastSize = 0
			lastAt = time.Now()
		}

		w.sink.Publish(model.Frame{CameraID: w.camera.ID}, pkt)
	}
}

// missRatioWindow is a simple rolling window of recent overlay outcomes
// (true = Apply missed its deadline and passed the frame through
// unannotated) used to drive the Running<->Degraded oscillation on a
// 10s window (SPEC_FULL.md 4.7).
type missRatioWindow struct {
	mu     sync.Mutex
	window time.Duration
	events []missEvent
}

type missEvent struct {
	at     time.Time
	missed bool
}

func newMissRatioWindow(window time.Duration) *missRatioWindow {
	return &missRatioWindow{window: window}
}

func (m *missRatioWindow) record(missed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.events = append(m.events, missEvent{at: now, missed: missed})
	m.prune(now)
}

func (m *missRatioWindow) ratio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	if len(m.events) == 0 {
		return 0
	}
	missed := 0
	for _, e := range m.events {
		if e.missed {
			missed++
		}
	}
	return float64(missed) / float64(len(m.events))
}

func (m *missRatioWindow) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.events) && m.events[i].at.Before(cutoff) {
		i++
	}
	m.events = m.events[i:]
}
