package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"command-center-vms-cctv/be/model"
)

func TestBoxColorKnown(t *testing.T) {
	c := boxColor(model.FaceRecord{IsUnknown: false})
	assert.Equal(t, colorKnown, c)
}

func TestBoxColorUnknownHighQuality(t *testing.T) {
	c := boxColor(model.FaceRecord{IsUnknown: true, Quality: 0.8})
	assert.Equal(t, colorUnknown, c)
}

func TestBoxColorUnknownLowQuality(t *testing.T) {
	c := boxColor(model.FaceRecord{IsUnknown: true, Quality: 0.1})
	assert.Equal(t, colorLowQualUnknown, c)
}

func TestLabelForKnown(t *testing.T) {
	l := labelFor(model.FaceRecord{IsUnknown: false, PersonID: "Alice", Similarity: 0.876})
	assert.Equal(t, "Alice (88%)", l)
}

func TestLabelForUnknown(t *testing.T) {
	l := labelFor(model.FaceRecord{IsUnknown: true})
	assert.Equal(t, "Desconhecido", l)
}

func TestSubmitThenApplyMatchesWithoutWaiting(t *testing.T) {
	s := NewStage("cam1", 0) // zero deadline: must already be pending
	s.Submit(model.RecognitionResult{FrameIndex: 5, Faces: []model.FaceRecord{{IsUnknown: true}}})

	// waitFor is Apply's matching step (drawing needs a real gocv frame).
	r, ok := s.waitFor(5)
	assert.True(t, ok)
	assert.Len(t, r.Faces, 1)
}

func TestSweepDropsAgedOutResults(t *testing.T) {
	s := NewStage("cam1", 0)
	s.Submit(model.RecognitionResult{FrameIndex: 1})
	s.Sweep(1 + skewFrameBudget + 1)

	s.mu.Lock()
	_, ok := s.pending[1]
	s.mu.Unlock()
	assert.False(t, ok)
}
