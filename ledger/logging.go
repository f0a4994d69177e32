package ledger

import (
	"context"
	"log"
)

var _ Ledger = &LoggingLedger{}

// LoggingLedger delegates to a nested Ledger, logging each call.
type LoggingLedger struct {
	l Ledger
}

// NewLogging wraps l as a Ledger that logs operations as they happen.
func NewLogging(l Ledger) *LoggingLedger {
	return &LoggingLedger{l: l}
}

// RecordCompletion implements Ledger.
func (l *LoggingLedger) RecordCompletion(ctx context.Context, c Completion) error {
	err := l.l.RecordCompletion(ctx, c)
	if err != nil {
		log.Printf("[ledger] ERROR RecordCompletion(%s): %s", c.FileID, err)
	} else {
		log.Printf("[ledger] RecordCompletion(%s, chunks=%d, bytes=%d)", c.FileID, c.TotalChunks, c.ByteSize)
	}
	return err
}
