package ledger

import (
	"context"
	"sync"
)

// MemLedger is an in-memory Ledger, useful in tests and for a receiver run
// without a database configured.
type MemLedger struct {
	mu          sync.Mutex
	completions map[string]Completion
}

// NewMem returns an empty MemLedger.
func NewMem() *MemLedger {
	return &MemLedger{completions: make(map[string]Completion)}
}

// RecordCompletion implements Ledger.
func (m *MemLedger) RecordCompletion(_ context.Context, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.completions[c.FileID]; ok {
		return nil
	}
	m.completions[c.FileID] = c
	return nil
}

// Get returns the recorded completion for fileID, if any.
func (m *MemLedger) Get(fileID string) (Completion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completions[fileID]
	return c, ok
}

// Len returns the number of distinct completions recorded.
func (m *MemLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completions)
}
