package keypool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolDropsEmptyKeys(t *testing.T) {
	p := NewPool([]string{"a", "", "  ", "b"})

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "a", p.At(0))
	assert.Equal(t, "b", p.At(1))
}

func TestPoolNextRoundRobin(t *testing.T) {
	p := NewPool([]string{"k0", "k1", "k2"})

	for k := 0; k < 10; k++ {
		key, idx, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, k%3, idx)
		assert.Equal(t, p.At(idx), key)
	}
}

func TestPoolNextEmpty(t *testing.T) {
	p := NewPool(nil)

	_, _, err := p.Next()
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Equal(t, 0, p.Cursor())
	p.AdvancePast(3)
}

func TestPoolAdvancePastWraps(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"})

	p.AdvancePast(1)
	assert.Equal(t, 2, p.Cursor())

	p.AdvancePast(2)
	assert.Equal(t, 0, p.Cursor())
}

func TestPoolConcurrentSpread(t *testing.T) {
	p := NewPool([]string{"a", "b", "c", "d"})

	const perWorker = 250
	const workers = 8

	var mu sync.Mutex
	counts := make(map[int]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[int]int)
			for i := 0; i < perWorker; i++ {
				_, idx, err := p.Next()
				if err == nil {
					local[idx]++
				}
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for idx := 0; idx < p.Len(); idx++ {
		assert.Equal(t, workers*perWorker/p.Len(), counts[idx], "index %d", idx)
	}
}
