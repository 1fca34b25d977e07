package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator hands out session ids from a fixed list, then falls back
// to "<prefix>-<n>".
//
// This enables deterministic test execution and golden snapshot comparison.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator returning ids in order.
// If prefix is empty, generated ids use "sess".
func NewFixedIDGenerator(prefix string, ids ...string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "sess"
	}
	return &FixedIDGenerator{ids: ids, prefix: prefix}
}

// NewID returns the next id. It never fails.
func (g *FixedIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() { g.n++ }()
	if g.n < len(g.ids) {
		return g.ids[g.n], nil
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n+1), nil
}
