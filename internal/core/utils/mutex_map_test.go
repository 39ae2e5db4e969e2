package utils_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fraud-pipeline/internal/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMapSameKeyIsSequential(t *testing.T) {
	m := utils.NewMutexMap(10)

	var inside, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock("model.json", func() error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(20 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
}

func TestMutexMapDifferentKeysAreConcurrent(t *testing.T) {
	m := utils.NewMutexMap(10)
	sleep := 200 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	for _, key := range []string{"model.json", "preprocessor.json"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			require.NoError(t, m.Lock(key))
			time.Sleep(sleep)
			assert.NoError(t, m.Unlock(key))
		}(key)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 2*sleep)
}

func TestMutexMapMaxSize(t *testing.T) {
	m := utils.NewMutexMap(1)

	require.NoError(t, m.Lock("a"))
	assert.Error(t, m.Lock("b"))

	require.NoError(t, m.Unlock("a"))
	require.NoError(t, m.Lock("b"))
}

func TestMutexMapUnlockUnknownKey(t *testing.T) {
	m := utils.NewMutexMap(10)
	assert.Error(t, m.Unlock("missing"))
}
