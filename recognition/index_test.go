package recognition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/model"
)

func TestExactIndexNearest(t *testing.T) {
	embeddings := []model.FaceEmbedding{
		{PersonID: "alice", Vector: []float32{1, 0, 0}},
		{PersonID: "bob", Vector: []float32{0, 1, 0}},
	}
	idx := newExactIndex(embeddings, 1)

	id, sim, ok := idx.Nearest([]float32{0.9, 0.1, 0})
	require.True(t, ok)
	assert.Equal(t, "alice", id)
	assert.Greater(t, sim, 0.8)
}

func TestExactIndexEmpty(t *testing.T) {
	idx := newExactIndex(nil, 0)
	_, _, ok := idx.Nearest([]float32{1, 0, 0})
	assert.False(t, ok)
}

func TestBuildChoosesExactBelowThreshold(t *testing.T) {
	embeddings := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{1, 0}}}
	idx := Build(embeddings, 1, 10)
	_, ok := idx.(*exactIndex)
	assert.True(t, ok)
}

func TestBuildChoosesBucketedAboveThreshold(t *testing.T) {
	embeddings := make([]model.FaceEmbedding, 5)
	for i := range embeddings {
		embeddings[i] = model.FaceEmbedding{PersonID: "p", Vector: []float32{1, 0}}
	}
	idx := Build(embeddings, 1, 2)
	_, ok := idx.(*bucketedIndex)
	assert.True(t, ok)
}

func TestBucketedIndexFallsBackAcrossBoundary(t *testing.T) {
	embeddings := []model.FaceEmbedding{
		{PersonID: "alice", Vector: []float32{1, 1, 1, 1}},
	}
	idx := newBucketedIndex(embeddings, 1)
	id, _, ok := idx.Nearest([]float32{-0.0001, 1, 1, 1})
	require.True(t, ok)
	assert.Equal(t, "alice", id)
}

func TestInnerProductDifferingLengths(t *testing.T) {
	got := innerProduct([]float32{1, 2, 3}, []float32{1, 1})
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestQualityScoreHelpers(t *testing.T) {
	assert.Equal(t, 1.0, clampUnit(5))
	assert.Equal(t, 0.0, clampUnit(-5))
	assert.InDelta(t, 0.5, clampUnit(0.5), 1e-9)

	assert.InDelta(t, 1.0, poseScore(model.FaceDetection{PoseYaw: 0, PosePitch: 0}), 1e-9)
	assert.InDelta(t, 0.0, poseScore(model.FaceDetection{PoseYaw: 90, PosePitch: 0}), 1e-9)
}
