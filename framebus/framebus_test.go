package framebus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	b := New[int]("cam1", "decode", 4)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(2))
	require.NoError(t, b.Push(3))

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = b.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestDropOldestWhenFull(t *testing.T) {
	b := New[int]("cam1", "decode", 2)
	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(2))
	require.NoError(t, b.Push(3)) // evicts 1

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = b.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCloseDrainsThenStops(t *testing.T) {
	b := New[int]("cam1", "decode", 4)
	require.NoError(t, b.Push(42))
	b.Close()

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestHaltRejectsFurtherPush(t *testing.T) {
	b := New[int]("cam1", "decode", 4)
	b.Halt()
	err := b.Push(1)
	assert.ErrorIs(t, err, ErrHalted)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b := New[int]("cam1", "decode", 8)
	var wg sync.WaitGroup
	wg.Add(1)

	received := 0
	go func() {
		defer wg.Done()
		for {
			_, ok := b.Pop()
			if !ok {
				return
			}
			received++
		}
	}()

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Push(i))
	}
	b.Close()
	wg.Wait()

	assert.LessOrEqual(t, received, 100)
	assert.Greater(t, received, 0)
}
