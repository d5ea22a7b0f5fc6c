package keypool

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrEmptyPool is returned when no API keys are configured.
var ErrEmptyPool = errors.New("no Gemini API keys configured")

// Pool is an ordered, immutable list of API keys with a shared round-robin cursor.
// The cursor is owned by the Pool value so every process instance (and every test) gets its own.
type Pool struct {
	keys   []string
	cursor atomic.Uint64
}

// NewPool builds a pool from keys in order. Empty keys are dropped.
func NewPool(keys []string) *Pool {
	filtered := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			filtered = append(filtered, key)
		}
	}

	return &Pool{keys: filtered}
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	return len(p.keys)
}

// At returns the key at index i.
func (p *Pool) At(i int) string {
	return p.keys[i]
}

// Next returns the key under the cursor and advances the cursor by one.
// The n-th call (0-based) returns index n mod Len().
func (p *Pool) Next() (string, int, error) {
	if len(p.keys) == 0 {
		return "", 0, ErrEmptyPool
	}

	idx := int((p.cursor.Add(1) - 1) % uint64(len(p.keys)))
	return p.keys[idx], idx, nil
}

// Cursor returns the index the next selection will start at.
func (p *Pool) Cursor() int {
	if len(p.keys) == 0 {
		return 0
	}
	return int(p.cursor.Load() % uint64(len(p.keys)))
}

// AdvancePast moves the cursor to the key after index i.
func (p *Pool) AdvancePast(i int) {
	if len(p.keys) == 0 {
		return
	}
	p.cursor.Store(uint64((i + 1) % len(p.keys)))
}
