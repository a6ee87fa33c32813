package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Closed", Closed.String())
}

func TestClassifyFatalVsTransient(t *testing.T) {
	assert.Equal(t, KindFatal, Classify("AuthError"))
	assert.Equal(t, KindFatal, Classify("UnsupportedCodec"))
	assert.Equal(t, KindTransient, Classify("StreamLost"))
	assert.Equal(t, KindTransient, Classify("DecodeError"))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	var b Backoff
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.Next()
		assert.Greater(t, d, time.Duration(0))
		last = d
	}
	// after enough iterations the base is capped at 60s +-20% jitter
	assert.Less(t, last, 73*time.Second)
}

func TestBackoffResetRestartsFromOne(t *testing.T) {
	var b Backoff
	b.Next()
	b.Next()
	b.Next()
	b.Reset()
	d := b.Next()
	assert.Less(t, d, 2*time.Second)
}

func TestMissRatioWindowComputesRatio(t *testing.T) {
	w := newMissRatioWindow(10 * time.Second)
	w.record(true)
	w.record(true)
	w.record(false)
	w.record(false)

	assert.InDelta(t, 0.5, w.ratio(), 1e-9)
}

func TestMissRatioWindowPrunesOldEvents(t *testing.T) {
	w := newMissRatioWindow(50 * time.Millisecond)
	w.record(true)
	time.Sleep(80 * time.Millisecond)
	w.record(false)

	assert.InDelta(t, 0.0, w.ratio(), 1e-9)
}
