// Package codec computes the SHA-256 of a watched file and streams its
// bytes through a compressor on their way into a filerelay.CompressedFile.
//
// The compressor is a black box: the only contract implementations must
// satisfy is decompress(compress(x)) == x. Both sides of a deployment must
// agree on the same Compressor implementation.
package codec

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/filerelay"
)

// Compressor is a streaming codec. NewWriter wraps w so that bytes written
// to the result are compressed on their way to w. NewReader wraps r so
// that bytes read from the result are the decompressed form of r's bytes.
type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Flate is a Compressor backed by compress/flate, matching the
// "flate" compressor offered by the store/compress package this is
// grounded on.
type Flate struct {
	// Level is the flate compression level; out-of-range values fall back
	// to flate.DefaultCompression, exactly as store/compress/compressors.go
	// treats its Level field.
	Level int
}

// NewWriter implements Compressor.
func (f Flate) NewWriter(w io.Writer) (io.WriteCloser, error) {
	level := f.Level
	if level < -2 || level > 9 {
		level = flate.DefaultCompression
	}
	return flate.NewWriter(w, level)
}

// NewReader implements Compressor.
func (f Flate) NewReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

// HashAndCompress opens the file named by d.Path, computes the SHA-256 of
// its raw bytes, and streams those same bytes through c into an in-memory
// compressed buffer. A file-open failure is returned to the caller so the
// producer loop can log and skip just this file, per §4.2's contract.
func HashAndCompress(ctx context.Context, d filerelay.FileDescriptor, c Compressor) (filerelay.CompressedFile, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return filerelay.CompressedFile{}, errors.Wrapf(err, "opening %s", d.Path)
	}
	defer f.Close()

	h := sha256.New()
	var buf bytes.Buffer

	cw, err := c.NewWriter(&buf)
	if err != nil {
		return filerelay.CompressedFile{}, errors.Wrap(err, "constructing compressor")
	}

	tee := io.TeeReader(f, h)
	if _, err := io.Copy(cw, tee); err != nil {
		return filerelay.CompressedFile{}, errors.Wrapf(err, "compressing %s", d.Path)
	}
	if err := cw.Close(); err != nil {
		return filerelay.CompressedFile{}, errors.Wrapf(err, "closing compressor for %s", d.Path)
	}

	return filerelay.CompressedFile{
		Descriptor:     d,
		SHA256Hex:      hex.EncodeToString(h.Sum(nil)),
		CompressedData: buf.Bytes(),
	}, nil
}

// Decompress fully drains r's compressed bytes through c, returning the
// original bytes. It is the inverse of the writer side of HashAndCompress
// and is provided mainly for tests; the assembler streams chunk-by-chunk
// instead of buffering like this.
func Decompress(c Compressor, compressed []byte) ([]byte, error) {
	cr, err := c.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "constructing decompressor")
	}
	defer cr.Close()

	out, err := io.ReadAll(cr)
	return out, errors.Wrap(err, "decompressing")
}
