// Package overlay implements the Overlay Stage (SPEC_FULL.md 4.5): a
// dispatcher that matches recognition results to their originating
// frame by frame index within a skew window, draws annotations, and
// passes decoded frames through unannotated when no result arrives in
// time.
package overlay

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"command-center-vms-cctv/be/metrics"
	"command-center-vms-cctv/be/model"
)

var (
	colorKnown          = color.RGBA{0, 200, 0, 0}
	colorUnknown        = color.RGBA{220, 200, 0, 0}
	colorLowQualUnknown = color.RGBA{140, 140, 140, 0}
)

const lowQualityThreshold = 0.4

// Stage matches decoded frames with recognition results by frame index.
// One Stage per camera.
type Stage struct {
	cameraID       string
	deadline       time.Duration
	skewWindow     time.Duration

	mu      sync.Mutex
	pending map[uint64]model.RecognitionResult
}

func NewStage(cameraID string, deadline time.Duration) *Stage {
	return &Stage{
		cameraID:   cameraID,
		deadline:   deadline,
		skewWindow: 500 * time.Millisecond,
		pending:    make(map[uint64]model.RecognitionResult),
	}
}

// Submit records a recognition result as it arrives, keyed by frame
// index, available for later Apply calls.
func (s *Stage) Submit(result model.RecognitionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[result.FrameIndex] = result
}

// Apply waits up to the overlay deadline for a matching recognition
// result for frame, then draws it (or passes the frame through
// unannotated) and returns the annotated frame plus whether this call
// was a miss (no result arrived in time) — the signal
// SPEC_FULL.md 4.7's Running<->Degraded oscillation is driven from.
// The original frame's pixel buffer is never mutated: a match is drawn
// on a clone, and a miss returns the input frame itself.
func (s *Stage) Apply(frame model.Frame) (model.Frame, bool, error) {
	result, ok := s.waitFor(frame.Index)
	if !ok {
		metrics.OverlayMissed.WithLabelValues(s.cameraID).Inc()
		return frame, true, nil
	}
	metrics.OverlayMatched.WithLabelValues(s.cameraID).Inc()
	out, err := s.draw(frame, result)
	return out, false, err
}

func (s *Stage) waitFor(frameIndex uint64) (model.RecognitionResult, bool) {
	deadline := time.Now().Add(s.deadline)
	for {
		s.mu.Lock()
		if r, ok := s.pending[frameIndex]; ok {
			delete(s.pending, frameIndex)
			s.mu.Unlock()
			return r, true
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return model.RecognitionResult{}, false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Sweep drops pending results whose frame has aged out of the skew
// window (SPEC_FULL.md section 3: "dropped when the matching frame
// leaves the skew window"). The worker's pipeline loop calls it after
// every Apply.
func (s *Stage) Sweep(currentFrameIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := range s.pending {
		if idx+skewFrameBudget < currentFrameIndex {
			delete(s.pending, idx)
		}
	}
}

const skewFrameBudget = 15 // ~500ms at 30fps; frame-index based, not wall-clock

func (s *Stage) draw(frame model.Frame, result model.RecognitionResult) (model.Frame, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return model.Frame{}, fmt.Errorf("overlay: frame to mat: %w", err)
	}
	defer mat.Close()

	annotated := mat.Clone()
	defer annotated.Close()

	for _, face := range result.Faces {
		rect := image.Rect(face.Box.X, face.Box.Y, face.Box.X+face.Box.W, face.Box.Y+face.Box.H)
		col := boxColor(face)
		gocv.Rectangle(&annotated, rect, col, 2)

		label := labelFor(face)
		origin := image.Pt(face.Box.X, face.Box.Y-8)
		if origin.Y < 12 {
			origin.Y = face.Box.Y + face.Box.H + 16
		}
		gocv.PutText(&annotated, label, origin, gocv.FontHersheySimplex, 0.5, col, 2)
	}

	data, err := annotated.DataPtrUint8()
	if err != nil {
		return model.Frame{}, fmt.Errorf("overlay: read annotated mat: %w", err)
	}
	out := make([]byte, len(data))
	copy(out, data)

	return model.Frame{
		CameraID: frame.CameraID, Index: frame.Index, CapturedAt: frame.CapturedAt,
		Width: frame.Width, Height: frame.Height, PixelFormat: frame.PixelFormat, Pixels: out,
	}, nil
}

// EncodeJPEG renders frame as a JPEG, for the best-effort /snapshot
// endpoint (SPEC_FULL.md 6). Callers rate-limit this themselves — it is
// not on the per-frame hot path.
func EncodeJPEG(frame model.Frame) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return nil, fmt.Errorf("overlay: frame to mat: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("overlay: encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// EncodeCropPNGBase64 crops box out of frame and returns it as a
// base64-encoded PNG, the shape the Control Plane Collaborator expects
// for an admitted unknown-face candidate (SPEC_FULL.md 6).
func EncodeCropPNGBase64(frame model.Frame, box model.Box) (string, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return "", fmt.Errorf("overlay: frame to mat: %w", err)
	}
	defer mat.Close()

	rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(image.Rect(0, 0, frame.Width, frame.Height))
	if rect.Empty() {
		return "", fmt.Errorf("overlay: empty crop region")
	}
	crop := mat.Region(rect)
	defer crop.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, crop)
	if err != nil {
		return "", fmt.Errorf("overlay: encode png: %w", err)
	}
	defer buf.Close()

	return base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}

func boxColor(face model.FaceRecord) color.RGBA {
	switch {
	case !face.IsUnknown:
		return colorKnown
	case face.Quality < lowQualityThreshold:
		return colorLowQualUnknown
	default:
		return colorUnknown
	}
}

func labelFor(face model.FaceRecord) string {
	if !face.IsUnknown {
		return fmt.Sprintf("%s (%.0f%%)", face.PersonID, face.Similarity*100)
	}
	return "Desconhecido"
}
