package unknowns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/config"
)

func testConfig() config.UnknownsConfig {
	return config.UnknownsConfig{
		ClusterDist:            0.4,
		MinPresence:            2 * time.Second,
		MinFrames:              3,
		MinFacePx:              80,
		MinQuality:             0.5,
		Cooldown:               60 * time.Second,
		Idle:                   5 * time.Second,
		MaxCandidatesPerCamera: 8,
	}
}

func TestNotAdmittedBeforeThresholds(t *testing.T) {
	p, err := New("cam1", testConfig())
	require.NoError(t, err)

	now := time.Now()
	emb := []float32{1, 0, 0}

	a := p.Observe(emb, 0.9, 100, 100, now)
	assert.False(t, a.Admitted)
}

func TestAdmittedOnceThresholdsSatisfied(t *testing.T) {
	p, err := New("cam1", testConfig())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	base := time.Now()

	p.Observe(emb, 0.9, 100, 100, base)
	p.Observe(emb, 0.9, 100, 100, base.Add(1*time.Second))
	a := p.Observe(emb, 0.9, 100, 100, base.Add(3*time.Second))

	assert.True(t, a.Admitted)
}

func TestCooldownSuppressesRepeatAdmission(t *testing.T) {
	p, err := New("cam1", testConfig())
	require.NoError(t, err)

	emb := []float32{1, 0, 0}
	base := time.Now()
	p.Observe(emb, 0.9, 100, 100, base)
	p.Observe(emb, 0.9, 100, 100, base.Add(1*time.Second))
	first := p.Observe(emb, 0.9, 100, 100, base.Add(3*time.Second))
	require.True(t, first.Admitted)

	later := base.Add(4 * time.Second) // within 60s cooldown and the 5s idle window
	second := p.Observe(emb, 0.9, 100, 100, later)
	assert.False(t, second.Admitted)
}

func TestDistinctEmbeddingsGetDistinctClusters(t *testing.T) {
	p, err := New("cam1", testConfig())
	require.NoError(t, err)

	now := time.Now()
	a1 := p.Observe([]float32{1, 0, 0}, 0.9, 100, 100, now)
	a2 := p.Observe([]float32{0, 1, 0}, 0.9, 100, 100, now)

	assert.NotEqual(t, a1.ClusterID, a2.ClusterID)
}

func TestCosineDistance(t *testing.T) {
	d := cosineDistance([]float32{1, 0}, []float32{1, 0})
	assert.InDelta(t, 0.0, d, 1e-9)

	d = cosineDistance([]float32{1, 0}, []float32{0, 1})
	assert.InDelta(t, 1.0, d, 1e-9)
}
