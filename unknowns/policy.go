// Package unknowns implements the Unknown Admission Policy (SPEC_FULL.md
// 4.4): per-camera clustering of unmatched faces by cosine distance,
// presence/quality/size thresholds, and per-cluster cooldowns.
package unknowns

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/metrics"
	"command-center-vms-cctv/be/model"
)

// Policy tracks UnknownCandidate state for a single camera. One Policy
// per Camera Worker.
type Policy struct {
	cameraID string
	cfg      config.UnknownsConfig
	cache    *lru.Cache[string, *model.UnknownCandidate]
}

func New(cameraID string, cfg config.UnknownsConfig) (*Policy, error) {
	cache, err := lru.New[string, *model.UnknownCandidate](cfg.MaxCandidatesPerCamera)
	if err != nil {
		return nil, fmt.Errorf("unknowns: new lru: %w", err)
	}
	return &Policy{cameraID: cameraID, cfg: cfg, cache: cache}, nil
}

// Admission is the result of feeding one unmatched face into the policy.
type Admission struct {
	Admitted  bool
	ClusterID string
	Embedding []float32
	Quality   float64
}

// Observe updates (or creates) the tracking candidate nearest to
// embedding and returns whether this observation triggers an admission.
// now is passed in explicitly so tests can drive the clock.
func (p *Policy) Observe(embedding []float32, quality float64, faceW, faceH int, now time.Time) Admission {
	p.evictIdle(now)

	cand, clusterID := p.findOrCreateCluster(embedding, now)
	cand.FrameCount++
	cand.LastSeen = now
	cand.LastEmbedding = embedding
	if quality > cand.MaxQuality {
		cand.MaxQuality = quality
	}
	p.cache.Add(clusterID, cand)

	if !p.admissible(cand, quality, faceW, faceH, now) {
		return Admission{Admitted: false, ClusterID: clusterID}
	}

	cand.LastAdmitted = now
	p.cache.Add(clusterID, cand)
	metrics.UnknownsAdmitted.WithLabelValues(p.cameraID).Inc()

	return Admission{
		Admitted:  true,
		ClusterID: clusterID,
		Embedding: embedding,
		Quality:   cand.MaxQuality,
	}
}

func (p *Policy) admissible(cand *model.UnknownCandidate, quality float64, faceW, faceH int, now time.Time) bool {
	presence := now.Sub(cand.FirstSeen)
	if presence < p.cfg.MinPresence {
		return false
	}
	if cand.FrameCount < p.cfg.MinFrames {
		return false
	}
	if faceW < p.cfg.MinFacePx || faceH < p.cfg.MinFacePx {
		return false
	}
	if quality < p.cfg.MinQuality {
		return false
	}
	if !cand.LastAdmitted.IsZero() && now.Sub(cand.LastAdmitted) < p.cfg.Cooldown {
		return false
	}
	return true
}

func (p *Policy) findOrCreateCluster(embedding []float32, now time.Time) (*model.UnknownCandidate, string) {
	for _, key := range p.cache.Keys() {
		cand, ok := p.cache.Peek(key)
		if !ok {
			continue
		}
		if cosineDistance(embedding, cand.LastEmbedding) <= p.cfg.ClusterDist {
			return cand, key
		}
	}

	id := newClusterID()
	cand := &model.UnknownCandidate{
		ClusterID: id,
		CameraID:  p.cameraID,
		FirstSeen: now,
		LastSeen:  now,
	}
	return cand, id
}

func (p *Policy) evictIdle(now time.Time) {
	for _, key := range p.cache.Keys() {
		cand, ok := p.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(cand.LastSeen) > p.cfg.Idle {
			p.cache.Remove(key)
		}
	}
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 2.0 // maximally distant: forces a new cluster
	}
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2.0
	}
	cosine := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1.0 - cosine
}

func newClusterID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
