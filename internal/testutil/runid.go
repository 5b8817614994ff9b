package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates run-1, run-2, ... in call order.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario produces the same run identifiers in logs and in
// mv_scans.
//
// Thread-safety: SequentialRunIDs is safe for concurrent use via internal mutex.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialRunIDs creates a generator. If prefix is empty, "run" is
// used.
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

// NewRunID returns the next identifier.
func (g *SequentialRunIDs) NewRunID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next)
}
