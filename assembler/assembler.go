// Package assembler streams a completed PayloadRecord's chunks through
// the decompressor into the final file, publishing it atomically and
// removing the patches directory it was built from.
package assembler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/filerelay/chunkstore"
	"github.com/bobg/filerelay/codec"
)

// Assembler decompresses and publishes completed payloads using c to
// undo the compression the sender applied.
type Assembler struct {
	Compressor codec.Compressor
}

// New constructs an Assembler using c as the decompression codec. Both
// ends of a deployment must agree on the same Compressor.
func New(c codec.Compressor) *Assembler {
	return &Assembler{Compressor: c}
}

// Assemble decompresses record's chunks in order into
// record.FilesDir/record.OriginalName, publishing it via a temp-write,
// fsync, atomic-rename sequence, then removes record.PatchesDir. Any
// failure deletes the partial output and returns an error; the caller
// should treat that as "not done" rather than a fatal condition.
func (a *Assembler) Assemble(record chunkstore.PayloadRecord) (string, error) {
	if len(record.ChunkFiles) != record.TotalChunks {
		return "", errors.Errorf("assembler: record for %s has %d chunk files, want %d", record.FileID, len(record.ChunkFiles), record.TotalChunks)
	}

	finalPath := filepath.Join(record.FilesDir, record.OriginalName)
	partPath := finalPath + ".part"

	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", partPath)
	}

	if err := a.decompressInto(out, record); err != nil {
		out.Close()
		os.Remove(partPath)
		return "", err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(partPath)
		return "", errors.Wrapf(err, "syncing %s", partPath)
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return "", errors.Wrapf(err, "closing %s", partPath)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return "", errors.Wrapf(err, "publishing %s", finalPath)
	}

	if err := os.RemoveAll(record.PatchesDir); err != nil {
		log.Printf("[assembler] publish succeeded but removing %s failed: %v", record.PatchesDir, err)
	}

	log.Printf("[assembler] published file=%s name=%s chunks=%d", record.FileID, record.OriginalName, record.TotalChunks)
	return finalPath, nil
}

func (a *Assembler) decompressInto(out io.Writer, record chunkstore.PayloadRecord) error {
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		cr, err := a.Compressor.NewReader(pr)
		if err != nil {
			pr.CloseWithError(err)
			done <- errors.Wrap(err, "constructing decompressor")
			return
		}
		_, err = io.Copy(out, cr)
		cr.Close()
		done <- errors.Wrap(err, "decompressing")
	}()

	for i, path := range record.ChunkFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			pw.CloseWithError(err)
			<-done
			return errors.Wrapf(err, "reading chunk %d for %s", i, record.FileID)
		}
		if _, err := pw.Write(data); err != nil {
			pw.CloseWithError(err)
			<-done
			return errors.Wrapf(err, "feeding chunk %d for %s to decompressor", i, record.FileID)
		}
	}
	pw.Close()

	if err := <-done; err != nil {
		return err
	}
	return nil
}
