// Package ledger records a queryable history of completed transfers,
// supplementing the mandatory on-disk manifest with a row per assembled
// file in SQL storage.
package ledger

import (
	"context"
	"time"
)

// Completion is one assembled file, ready to be recorded.
type Completion struct {
	FileID       string
	OriginalName string
	TotalChunks  int
	ByteSize     int64
	CompletedAt  time.Time
}

// Ledger records completions. Implementations must be safe to call
// concurrently. A ledger failure is always non-fatal to the pipeline: the
// on-disk manifest remains the source of truth.
type Ledger interface {
	RecordCompletion(ctx context.Context, c Completion) error
}
