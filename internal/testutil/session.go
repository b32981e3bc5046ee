package testutil

import (
	"fmt"
	"sync"
)

// SequentialSessionGenerator issues predictable journal session ids:
// "session-0001", "session-0002", ...
//
// The same scenario run with a fresh generator produces byte-identical
// journals, which keeps golden files stable.
//
// Thread-safety: safe for concurrent use.
type SequentialSessionGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialSessionGenerator creates a generator. An empty prefix
// defaults to "session".
func NewSequentialSessionGenerator(prefix string) *SequentialSessionGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialSessionGenerator{prefix: prefix}
}

// Generate returns the next session id.
//
// Implements journal.SessionGenerator.
func (g *SequentialSessionGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
