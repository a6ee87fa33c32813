package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(mr.Addr())
}

func TestWriteThenRead(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Write(ctx, model.WorkerHealth{CameraID: "cam1", State: "Running", Viewers: 2})

	got, ok := r.Read(ctx, "cam1")
	require.True(t, ok)
	assert.Equal(t, "Running", got.State)
	assert.Equal(t, 2, got.Viewers)
}

func TestReadMissReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	_, ok := r.Read(context.Background(), "does-not-exist")
	assert.False(t, ok)
}

func TestReadAllAggregatesMultipleCameras(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Write(ctx, model.WorkerHealth{CameraID: "cam1", State: "Running"})
	r.Write(ctx, model.WorkerHealth{CameraID: "cam2", State: "Degraded"})

	all := r.ReadAll(ctx)
	assert.Len(t, all, 2)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	r := New(mr.Addr())

	r.Write(context.Background(), model.WorkerHealth{CameraID: "cam1", State: "Running"})
	mr.FastForward(ttl + time.Second)

	_, ok := r.Read(context.Background(), "cam1")
	assert.False(t, ok)
}
