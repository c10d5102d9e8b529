package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressCounter_ConcurrentAdd(t *testing.T) {
	var (
		calls int
		last  int64
	)
	counter := NewProgressCounter(1000, func(transferred, total int64) {
		calls++
		last = transferred
		assert.Equal(t, int64(1000), total)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				counter.Add(10)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1000), counter.Transferred())
	assert.Equal(t, 100, calls)
	assert.Equal(t, int64(1000), last)
}

func TestProgressCounter_ReadCountsBuffer(t *testing.T) {
	counter := NewProgressCounter(8, nil)

	n, err := counter.Read(make([]byte, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), counter.Transferred())
}

func TestProgressCounter_SetIsMonotonic(t *testing.T) {
	counter := NewProgressCounter(100, nil)

	counter.Set(40)
	counter.Set(20)
	assert.Equal(t, int64(40), counter.Transferred())

	counter.Reset()
	assert.Equal(t, int64(0), counter.Transferred())
}

func TestProgressCounter_NilSafe(t *testing.T) {
	var counter *ProgressCounter
	counter.Add(10)
	counter.Set(10)
	counter.Reset()
	assert.Zero(t, counter.Transferred())
	assert.Zero(t, counter.Total())
}
