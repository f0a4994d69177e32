// Package chunk splits a CompressedFile's bytes into fixed-size,
// deterministically indexed FileChunks. Unlike content-defined chunking,
// boundaries here depend only on offset and size, never on content, so the
// same compressed bytes always split into the same chunks.
package chunk

import (
	"github.com/pkg/errors"

	"github.com/bobg/filerelay"
)

// ErrInvalidSize is returned by Split when chunkSize is not positive.
var ErrInvalidSize = errors.New("chunk: size must be > 0")

// Split slices cf.CompressedData into chunks of at most chunkSize bytes
// each, tagging every chunk with fileID, originalName, and ttlSeconds so
// the sender can serialize it onto the wire without consulting anything
// else. The result satisfies FileChunk's invariants: indices run
// 0..TotalChunks-1 in order, TotalChunks == ceil(len(data)/chunkSize), and
// TotalChunks is 0 for empty input.
func Split(cf filerelay.CompressedFile, chunkSize int, fileID, originalName string, ttlSeconds int64) ([]filerelay.FileChunk, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidSize
	}

	data := cf.CompressedData
	total := (len(data) + chunkSize - 1) / chunkSize

	chunks := make([]filerelay.FileChunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		payload := make([]byte, end-start)
		copy(payload, data[start:end])

		chunks = append(chunks, filerelay.FileChunk{
			Descriptor:   cf.Descriptor,
			SHA256Hex:    cf.SHA256Hex,
			FileID:       fileID,
			OriginalName: originalName,
			TTLSeconds:   ttlSeconds,
			Index:        i,
			TotalChunks:  total,
			Payload:      payload,
		})
	}
	return chunks, nil
}

// Join reassembles chunks, previously produced by Split for a single file,
// back into the original compressed byte stream. Chunks must be supplied
// in order starting at index 0 with a consistent TotalChunks; Join does not
// sort or deduplicate.
func Join(chunks []filerelay.FileChunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	total := chunks[0].TotalChunks
	if len(chunks) != total {
		return nil, errors.Errorf("chunk: have %d chunks, want %d", len(chunks), total)
	}

	size := 0
	for i, c := range chunks {
		if c.Index != i {
			return nil, errors.Errorf("chunk: chunk at position %d has index %d", i, c.Index)
		}
		if c.TotalChunks != total {
			return nil, errors.Errorf("chunk: inconsistent TotalChunks at index %d", i)
		}
		size += len(c.Payload)
	}

	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c.Payload...)
	}
	return out, nil
}
