package recognition

import (
	"sync/atomic"

	"command-center-vms-cctv/be/model"
)

// Index is the identity lookup surface recognize() queries. Readers hold
// a snapshot pointer (atomic.Pointer[Index]); writers publish a new one
// on ReloadIndex and let the GC reclaim the old snapshot once the last
// reader releases it, per SPEC_FULL.md section 5 ("no locks on the hot
// path").
type Index interface {
	// Nearest returns the best-matching person id and similarity for an
	// L2-normalized query embedding. ok=false means the index is empty.
	Nearest(query []float32) (personID string, similarity float64, ok bool)
	Version() uint64
}

type entry struct {
	personID string
	vector   []float32
}

// exactIndex performs a linear inner-product scan, used below
// index_exact_max entries (SPEC_FULL.md 4.3).
type exactIndex struct {
	entries []entry
	version uint64
}

func newExactIndex(embeddings []model.FaceEmbedding, version uint64) *exactIndex {
	entries := make([]entry, 0, len(embeddings))
	for _, e := range embeddings {
		entries = append(entries, entry{personID: e.PersonID, vector: e.Vector})
	}
	return &exactIndex{entries: entries, version: version}
}

func (x *exactIndex) Nearest(query []float32) (string, float64, bool) {
	if len(x.entries) == 0 {
		return "", 0, false
	}
	bestSim := -2.0
	bestID := ""
	for _, e := range x.entries {
		sim := innerProduct(query, e.vector)
		if sim > bestSim {
			bestSim = sim
			bestID = e.personID
		}
	}
	return bestID, bestSim, true
}

func (x *exactIndex) Version() uint64 { return x.version }

// bucketedIndex groups entries into coarse buckets by their dominant
// dimension sign pattern (a cheap locality-sensitive hash), scanning
// only the query's bucket, or its one-bit neighbours when that bucket is
// empty. Used above
// index_exact_max entries where an O(n) scan would blow the recognition
// latency budget.
type bucketedIndex struct {
	buckets map[uint32][]entry
	version uint64
	bits    int
}

const lshBits = 16

func newBucketedIndex(embeddings []model.FaceEmbedding, version uint64) *bucketedIndex {
	b := &bucketedIndex{buckets: make(map[uint32][]entry), version: version, bits: lshBits}
	for _, e := range embeddings {
		key := signBucket(e.Vector, b.bits)
		b.buckets[key] = append(b.buckets[key], entry{personID: e.PersonID, vector: e.Vector})
	}
	return b
}

func (b *bucketedIndex) Nearest(query []float32) (string, float64, bool) {
	key := signBucket(query, b.bits)
	candidates := b.buckets[key]
	if len(candidates) == 0 {
		// Fall back to neighboring buckets (single-bit flips) so a
		// query landing just across a hyperplane boundary still finds
		// its nearest enrolled neighbor.
		for bit := 0; bit < b.bits; bit++ {
			if alt, ok := b.buckets[key^(1<<uint(bit))]; ok {
				candidates = append(candidates, alt...)
			}
		}
	}
	if len(candidates) == 0 {
		return "", 0, false
	}
	bestSim := -2.0
	bestID := ""
	for _, e := range candidates {
		sim := innerProduct(query, e.vector)
		if sim > bestSim {
			bestSim = sim
			bestID = e.personID
		}
	}
	return bestID, bestSim, true
}

func (b *bucketedIndex) Version() uint64 { return b.version }

func signBucket(v []float32, bits int) uint32 {
	var key uint32
	step := len(v) / bits
	if step == 0 {
		step = 1
	}
	for i := 0; i < bits && i*step < len(v); i++ {
		if v[i*step] > 0 {
			key |= 1 << uint(i)
		}
	}
	return key
}

func innerProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Build chooses exact or bucketed strategy transparently based on
// catalog size against exactMax.
func Build(embeddings []model.FaceEmbedding, version uint64, exactMax int) Index {
	if len(embeddings) <= exactMax {
		return newExactIndex(embeddings, version)
	}
	return newBucketedIndex(embeddings, version)
}

// SnapshotPointer is an atomic.Pointer[Index]-like holder (Index is an
// interface so atomic.Pointer[Index] works directly); kept as a named
// type purely for readability at call sites in engine.go.
type SnapshotPointer = atomic.Pointer[Index]
