package recognition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"command-center-vms-cctv/be/model"
)

func TestHashEmbeddingsStableAcrossIdenticalContent(t *testing.T) {
	a := []model.FaceEmbedding{
		{PersonID: "alice", Vector: []float32{1, 0, 0}},
		{PersonID: "bob", Vector: []float32{0, 1, 0}},
	}
	b := []model.FaceEmbedding{
		{PersonID: "alice", Vector: []float32{1, 0, 0}},
		{PersonID: "bob", Vector: []float32{0, 1, 0}},
	}
	assert.Equal(t, hashEmbeddings(a), hashEmbeddings(b))
}

func TestHashEmbeddingsChangesWithContent(t *testing.T) {
	a := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{1, 0, 0}}}
	b := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{0.9, 0, 0}}}
	assert.NotEqual(t, hashEmbeddings(a), hashEmbeddings(b))
}

func TestHashEmbeddingsEmptyIsStable(t *testing.T) {
	assert.Equal(t, hashEmbeddings(nil), hashEmbeddings([]model.FaceEmbedding{}))
}

func TestPartialProgressSnapshotIsACopy(t *testing.T) {
	p := &partialProgress{}
	p.setVersion(7)
	p.append(model.FaceRecord{PersonID: "alice"})

	faces, version := p.snapshot()
	assert.Equal(t, uint64(7), version)
	assert.Len(t, faces, 1)

	p.append(model.FaceRecord{PersonID: "bob"})
	assert.Len(t, faces, 1, "snapshot must not observe later appends")

	faces2, _ := p.snapshot()
	assert.Len(t, faces2, 2)
}

func TestSoftTimeoutChanNilWhenUnset(t *testing.T) {
	assert.Nil(t, softTimeoutChan(0))
	assert.NotNil(t, softTimeoutChan(1))
}

func newTestEngine() *Engine {
	e := &Engine{cfg: Config{ExactMax: 10}}
	empty := Build(nil, 0, e.cfg.ExactMax)
	e.index.Store(&empty)
	return e
}

func TestReloadIndexIsIdempotent(t *testing.T) {
	e := newTestEngine()
	embeddings := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{1, 0, 0}}}

	v1 := e.ReloadIndex(nil, embeddings)
	v2 := e.ReloadIndex(nil, embeddings)
	assert.Equal(t, v1, v2, "reloading identical content must not bump the version")
}

func TestReloadIndexBumpsOnRealChange(t *testing.T) {
	e := newTestEngine()
	first := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{1, 0, 0}}}
	second := []model.FaceEmbedding{{PersonID: "alice", Vector: []float32{0, 1, 0}}}

	v1 := e.ReloadIndex(nil, first)
	v2 := e.ReloadIndex(nil, second)
	assert.Greater(t, v2, v1)
}
