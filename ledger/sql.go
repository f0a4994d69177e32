package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"
)

// Schema is the SQL New executes. It creates the completions table if it
// doesn't exist; if it does exist, it must have this shape.
const Schema = `
CREATE TABLE IF NOT EXISTS completions (
  file_id       TEXT PRIMARY KEY,
  original_name TEXT NOT NULL,
  total_chunks  INTEGER NOT NULL,
  byte_size     INTEGER NOT NULL,
  completed_at  TEXT NOT NULL
);
`

// SQLLedger is a Ledger backed by database/sql, usable with either the
// sqlite3 or postgres driver.
type SQLLedger struct {
	db *sql.DB
}

// NewSQL wraps db as a Ledger, creating the completions table if needed.
func NewSQL(ctx context.Context, db *sql.DB) (*SQLLedger, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, errors.Wrap(err, "creating completions table")
	}
	return &SQLLedger{db: db}, nil
}

// RecordCompletion implements Ledger. Re-recording the same file_id is a
// no-op, matching the chunk store's own idempotence under redelivery.
func (l *SQLLedger) RecordCompletion(ctx context.Context, c Completion) error {
	const q = `
INSERT INTO completions (file_id, original_name, total_chunks, byte_size, completed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (file_id) DO NOTHING`

	_, err := l.db.ExecContext(ctx, q, c.FileID, c.OriginalName, c.TotalChunks, c.ByteSize, c.CompletedAt.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "inserting completion")
}

// ListSince calls f once per completion recorded at or after since, ordered
// by completion time, giving operators a queryable history alongside the
// on-disk manifest.
func (l *SQLLedger) ListSince(ctx context.Context, since time.Time, f func(Completion) error) error {
	const q = `
SELECT file_id, original_name, total_chunks, byte_size, completed_at
FROM completions
WHERE completed_at >= $1
ORDER BY completed_at`

	err := sqlutil.ForQueryRows(ctx, l.db, q, since.UTC().Format(time.RFC3339Nano), func(fileID, name string, totalChunks int, byteSize int64, completedAtStr string) error {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr)
		if err != nil {
			return errors.Wrapf(err, "parsing completed_at %s", completedAtStr)
		}
		return f(Completion{
			FileID:       fileID,
			OriginalName: name,
			TotalChunks:  totalChunks,
			ByteSize:     byteSize,
			CompletedAt:  completedAt,
		})
	})
	return errors.Wrap(err, "listing completions")
}
