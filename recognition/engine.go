// Package recognition implements the Recognition Engine (SPEC_FULL.md
// 4.3): face detection (detector.go), embedding (embedder.go), quality
// scoring (quality.go), and identity lookup (index.go), composed here
// into the recognize()/reload_index() contract that recognitiond
// exposes over recognitionrpc.
package recognition

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"command-center-vms-cctv/be/model"
)

type Config struct {
	CascadePath string
	ModelPath   string
	DetConfMin  float64
	SimMatch    float64
	ExactMax    int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// Engine is the process-wide recognition compute surface. It is
// intentionally one instance per recognitiond process: every camera
// worker's Recognize calls funnel through the same Engine so GPU/CPU use
// is serialized by a single bounded worker pool (SPEC_FULL.md 9,
// "shared GPU").
type Engine struct {
	cfg      Config
	detector *Detector
	embedder *Embedder
	index    SnapshotPointer
	ready    atomicBool

	pool chan struct{} // bounded compute slots

	hashMu     sync.Mutex
	indexHash  [32]byte
	hashInited bool
}

// atomicBool is a minimal mutex-backed flag for ModelNotLoaded gating.
type atomicBool struct {
	mu    sync.Mutex
	value bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	b.value = v
	b.mu.Unlock()
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// NewEngine loads the detector and embedder models and performs the
// warm-up recognize() required before Ready() returns true.
func NewEngine(cfg Config, computeStreams int) (*Engine, error) {
	det, err := NewDetector(cfg.CascadePath, cfg.DetConfMin)
	if err != nil {
		return nil, fmt.Errorf("recognition: engine init: %w", err)
	}
	emb, err := NewEmbedder(cfg.ModelPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("recognition: engine init: %w", err)
	}
	if computeStreams < 1 {
		computeStreams = 1
	}
	e := &Engine{cfg: cfg, detector: det, embedder: emb, pool: make(chan struct{}, computeStreams)}

	empty := Build(nil, 0, cfg.ExactMax)
	e.index.Store(&empty)

	if err := e.warmUp(); err != nil {
		return nil, fmt.Errorf("recognition: warm-up: %w", err)
	}
	e.ready.set(true)
	return e, nil
}

func (e *Engine) Close() {
	e.detector.Close()
	e.embedder.Close()
}

func (e *Engine) Ready() bool { return e.ready.get() }

func (e *Engine) warmUp() error {
	synthetic := model.Frame{
		CameraID: "warmup", Index: 0, Width: 320, Height: 240,
		PixelFormat: "rgb24", Pixels: make([]byte, 320*240*3),
	}
	// Recognize itself rejects calls until ready is set, so the warm-up
	// pass runs the pipeline directly.
	return e.recognizeSync(synthetic, &partialProgress{})
}

// ErrModelNotLoaded is returned by Recognize before warm-up completes.
type ErrModelNotLoaded struct{}

func (ErrModelNotLoaded) Error() string { return "recognition: ModelNotLoaded" }

// partialProgress is shared between Recognize and its background
// recognizeSync goroutine so that a timeout firing mid-compute can
// still return the faces classified before it fired, instead of an
// empty result (SPEC_FULL.md 8's round-trip property: a Partial result
// always carries whatever was actually found).
type partialProgress struct {
	mu      sync.Mutex
	faces   []model.FaceRecord
	version uint64
}

func (p *partialProgress) append(f model.FaceRecord) {
	p.mu.Lock()
	p.faces = append(p.faces, f)
	p.mu.Unlock()
}

func (p *partialProgress) setVersion(v uint64) {
	p.mu.Lock()
	p.version = v
	p.mu.Unlock()
}

func (p *partialProgress) snapshot() ([]model.FaceRecord, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.FaceRecord, len(p.faces))
	copy(out, p.faces)
	return out, p.version
}

// Recognize runs the full detect -> embed -> classify pipeline for one
// frame with the configured soft/hard timeout budget. Crossing
// SoftTimeout returns early with whatever faces have classified so far
// (Partial=true), so a slow frame degrades gracefully instead of
// stalling the caller; HardTimeout is the absolute ceiling even if no
// face has finished classifying yet. The background compute is not
// stopped by either timeout: it runs until it finishes, after Recognize
// has returned and released its pool slot. Neither timeout ever produces an
// error — only Partial=true with a (possibly empty, never fabricated)
// faces slice.
func (e *Engine) Recognize(ctx context.Context, frame model.Frame) (model.RecognitionResult, error) {
	if !e.ready.get() {
		return model.RecognitionResult{}, ErrModelNotLoaded{}
	}

	select {
	case e.pool <- struct{}{}:
		defer func() { <-e.pool }()
	case <-ctx.Done():
		return model.RecognitionResult{}, ctx.Err()
	}

	hardCtx, cancel := context.WithTimeout(ctx, e.cfg.HardTimeout)
	defer cancel()

	progress := &partialProgress{}

	type result struct {
		err error
	}
	done := make(chan result, 1)

	go func() {
		err := e.recognizeSync(frame, progress)
		done <- result{err: err}
	}()

	softTimer := softTimeoutChan(e.cfg.SoftTimeout)

	select {
	case r := <-done:
		if r.err != nil {
			return model.RecognitionResult{}, r.err
		}
		faces, version := progress.snapshot()
		return model.RecognitionResult{
			CameraID: frame.CameraID, FrameIndex: frame.Index,
			Faces: faces, IndexVersion: version,
		}, nil
	case <-softTimer:
		faces, version := progress.snapshot()
		return model.RecognitionResult{
			CameraID: frame.CameraID, FrameIndex: frame.Index,
			Faces: faces, IndexVersion: version, Partial: true,
		}, nil
	case <-hardCtx.Done():
		faces, version := progress.snapshot()
		return model.RecognitionResult{
			CameraID: frame.CameraID, FrameIndex: frame.Index,
			Faces: faces, IndexVersion: version, Partial: true,
		}, nil
	}
}

// softTimeoutChan returns a channel that fires after d, or nil (which
// blocks forever in a select) when d is not configured — SoftTimeout is
// optional; HardTimeout alone still bounds Recognize.
func softTimeoutChan(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.After(d)
}

func (e *Engine) recognizeSync(frame model.Frame, progress *partialProgress) error {
	dets, err := e.detector.Detect(frame)
	if err != nil {
		return fmt.Errorf("recognition: detect: %w", err)
	}

	idxPtr := e.index.Load()
	idx := *idxPtr
	progress.setVersion(idx.Version())

	for _, d := range dets {
		embedding, err := e.embedder.Embed(frame, d.Box)
		if err != nil {
			continue // a single bad crop should not fail the whole frame
		}
		q, err := Quality(frame, d.Box, d)
		if err != nil {
			q = 0
		}

		personID, sim, ok := idx.Nearest(embedding)
		isUnknown := !ok || sim < e.cfg.SimMatch
		if isUnknown {
			personID = ""
		}

		progress.append(model.FaceRecord{
			Box: d.Box, Embedding: embedding, PersonID: personID,
			Similarity: sim, IsUnknown: isUnknown, Quality: q,
		})
	}
	return nil
}

// ReloadIndex atomically swaps the Identity Index; in-flight Recognize
// calls keep using the snapshot they already loaded (SPEC_FULL.md
// Invariant 3). Idempotent (SPEC_FULL.md 4.3, 8): reloading the same
// embedding catalog content back-to-back is a no-op that neither swaps
// the snapshot nor bumps the version, detected by hashing the catalog
// rather than trusting a caller-supplied version or timestamp.
func (e *Engine) ReloadIndex(persons []model.Person, embeddings []model.FaceEmbedding) uint64 {
	hash := hashEmbeddings(embeddings)

	e.hashMu.Lock()
	unchanged := e.hashInited && hash == e.indexHash
	if !unchanged {
		e.indexHash = hash
		e.hashInited = true
	}
	e.hashMu.Unlock()

	prev := *e.index.Load()
	if unchanged {
		return prev.Version()
	}

	version := prev.Version() + 1
	next := Build(embeddings, version, e.cfg.ExactMax)
	e.index.Store(&next)
	return version
}

// hashEmbeddings fingerprints an embedding catalog by person ID and
// vector content, in list order: a reload whose catalog hashes
// identically to the previous one is a no-op.
func hashEmbeddings(embeddings []model.FaceEmbedding) [32]byte {
	h := sha256.New()
	for _, emb := range embeddings {
		h.Write([]byte(emb.PersonID))
		for _, v := range emb.Vector {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
