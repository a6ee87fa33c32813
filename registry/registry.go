// Package registry implements the Cross-process Registry (SPEC_FULL.md
// 4.11 / 3 Invariant 5): an ephemeral, Redis-backed cache of per-camera
// worker health, written by each Camera Worker and read by the
// Signaling process's /health endpoint. It is never a system of record;
// every key carries a TTL so a crashed worker's entry expires instead of
// going stale forever, and every read tolerates a miss.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"command-center-vms-cctv/be/model"
)

const ttl = 15 * time.Second
const snapshotTTL = 10 * time.Second

type Registry struct {
	rdb *redis.Client
}

func New(addr string) *Registry {
	return &Registry{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Registry) Close() error { return r.rdb.Close() }

func key(cameraID string) string { return fmt.Sprintf("camera:%s:health", cameraID) }

func snapshotKey(cameraID string) string { return fmt.Sprintf("camera:%s:snapshot", cameraID) }

// WriteSnapshot caches the latest annotated JPEG for one camera,
// best-effort, for the Signaling process's /snapshot endpoint — the
// only consumer of this key, and one that is never the Camera Worker
// itself (it never reads its own snapshot back).
func (r *Registry) WriteSnapshot(ctx context.Context, cameraID string, jpeg []byte) {
	_ = r.rdb.Set(ctx, snapshotKey(cameraID), jpeg, snapshotTTL).Err()
}

// ReadSnapshot returns the cached JPEG, or ok=false on a miss (no
// snapshot written yet, or expired because the camera isn't Running).
func (r *Registry) ReadSnapshot(ctx context.Context, cameraID string) ([]byte, bool) {
	data, err := r.rdb.Get(ctx, snapshotKey(cameraID)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Write publishes health best-effort; callers never block a state
// transition on this succeeding.
func (r *Registry) Write(ctx context.Context, health model.WorkerHealth) {
	data, err := json.Marshal(health)
	if err != nil {
		return
	}
	_ = r.rdb.Set(ctx, key(health.CameraID), data, ttl).Err()
}

// Read returns the cached health for one camera, or ok=false on a miss
// (expired, never written, or Redis unreachable) — the caller falls
// back to reporting "unknown" state, never an error.
func (r *Registry) Read(ctx context.Context, cameraID string) (model.WorkerHealth, bool) {
	data, err := r.rdb.Get(ctx, key(cameraID)).Bytes()
	if err != nil {
		return model.WorkerHealth{}, false
	}
	var h model.WorkerHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return model.WorkerHealth{}, false
	}
	return h, true
}

// ReadAll scans every camera health key in one pass, for the aggregate
// /health handler.
func (r *Registry) ReadAll(ctx context.Context) []model.WorkerHealth {
	var out []model.WorkerHealth
	iter := r.rdb.Scan(ctx, 0, "camera:*:health", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var h model.WorkerHealth
		if err := json.Unmarshal(data, &h); err != nil {
			continue
		}
		out = append(out, h)
	}
	return out
}
