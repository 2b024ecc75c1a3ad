package ports

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
)

func TestAllocatorSmallestFree(t *testing.T) {
	a, err := NewAllocator(5000, 5004)
	require.NoError(t, err)

	p1, err := a.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 5000, p1)

	p2, err := a.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 5001, p2)

	a.Release(p1)

	p3, err := a.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 5000, p3, "released port should be reused first")
}

func TestAllocatorExhaustion(t *testing.T) {
	a, err := NewAllocator(10000, 10002)
	require.NoError(t, err)

	_, err = a.Acquire()
	require.NoError(t, err)
	_, err = a.Acquire()
	require.NoError(t, err)

	_, err = a.Acquire()
	assert.ErrorIs(t, err, models.ErrNoPortAvailable)
}

func TestAcquireSpecific(t *testing.T) {
	a, err := NewAllocator(5000, 5010)
	require.NoError(t, err)

	require.NoError(t, a.AcquireSpecific(5005))
	assert.ErrorIs(t, a.AcquireSpecific(5005), models.ErrPortAlreadyAllocated)

	// Out of range is rejected.
	assert.Error(t, a.AcquireSpecific(4999))
	assert.Error(t, a.AcquireSpecific(5010))

	// The specific reservation is skipped by Acquire.
	for i := 0; i < 5; i++ {
		p, err := a.Acquire()
		require.NoError(t, err)
		assert.NotEqual(t, 5005, p)
	}
}

func TestReleaseUnknownPortIsNoop(t *testing.T) {
	a, err := NewAllocator(5000, 5010)
	require.NoError(t, err)

	a.Release(5003)
	assert.Equal(t, 0, a.Used())
}

func TestMarkExternal(t *testing.T) {
	a, err := NewAllocator(10000, 10010)
	require.NoError(t, err)

	p, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 10000, p)

	// Compute reports 10000 (ours) and 10003 (unknown).
	a.MarkExternal([]int{10000, 10003})
	assert.Equal(t, 2, a.Used())

	// 10003 is now skipped by Acquire.
	p2, err := a.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 10001, p2)

	// Release does not clear external holds.
	a.Release(10003)
	assert.Equal(t, 3, a.Used())

	// A fresh report without 10003 frees it.
	a.MarkExternal(nil)
	a.Release(p)
	a.Release(p2)
	assert.Equal(t, 0, a.Used())
}

func TestMarkExternalIgnoresOutOfRange(t *testing.T) {
	a, err := NewAllocator(10000, 10010)
	require.NoError(t, err)

	a.MarkExternal([]int{1, 9999, 10010, 65000})
	assert.Equal(t, 0, a.Used())
}

func TestAllocatorConcurrentUniqueness(t *testing.T) {
	a, err := NewAllocator(10000, 10200)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int]bool)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Acquire()
			if err != nil {
				return
			}
			mu.Lock()
			assert.False(t, seen[p], "port %d allocated twice", p)
			seen[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
}

func TestNewPoolDefaults(t *testing.T) {
	p, err := NewPool(0, 0, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultConsolePortEnd-DefaultConsolePortStart, p.Console.Capacity())
	assert.Equal(t, DefaultUDPPortEnd-DefaultUDPPortStart, p.UDP.Capacity())

	first, err := p.Console.Acquire()
	require.NoError(t, err)
	assert.Equal(t, DefaultConsolePortStart, first)
}

func TestNewAllocatorInvalidRange(t *testing.T) {
	_, err := NewAllocator(0, 100)
	assert.Error(t, err)
	_, err = NewAllocator(100, 100)
	assert.Error(t, err)
	_, err = NewAllocator(200, 100)
	assert.Error(t, err)
}
