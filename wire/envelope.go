// Package wire implements the data-channel chunk envelope and the binary
// system-channel messages exchanged between sender and receiver.
package wire

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/filerelay"
)

// ErrCorrupt names a CRC mismatch on the header or payload. Nothing in
// this package returns it; Verify reports a mismatch as false.
var ErrCorrupt = errors.New("wire: crc mismatch")

// crcTable is the IEEE 802.3 CRC-32 polynomial table (0xEDB88320), the
// same one crc32.IEEETable already builds; named here for clarity at
// call sites.
var crcTable = crc32.IEEETable

// Envelope is the parsed form of one chunk frame as read off the wire,
// before its CRCs are checked.
type Envelope struct {
	FileID       string
	OriginalName string
	Index        int
	TotalChunks  int
	TTLSeconds   int64
	PayloadSize  int
	HeaderCRC32  uint32
	PayloadCRC32 uint32
	Payload      []byte
}

// headerBytes returns the exact bytes CRC32 is computed over for the
// header line, per the canonical line-delimited frame format.
func headerBytes(fileID, originalName string, index, totalChunks int, ttlSeconds int64, payloadSize int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%d\n%d\n%d\n%d\n", fileID, originalName, index, totalChunks, ttlSeconds, payloadSize)
	return []byte(b.String())
}

// WriteChunk serializes chunk as a full chunk envelope frame and writes it
// to w. It is the sender's half of the wire format described for the data
// channel: eight newline-terminated decimal/text header lines followed by
// exactly len(chunk.Payload) raw bytes.
func WriteChunk(w io.Writer, chunk filerelay.FileChunk) error {
	hb := headerBytes(chunk.FileID, chunk.OriginalName, chunk.Index, chunk.TotalChunks, chunk.TTLSeconds, len(chunk.Payload))
	headerCRC := crc32.Checksum(hb, crcTable)
	payloadCRC := crc32.Checksum(chunk.Payload, crcTable)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hb); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if _, err := fmt.Fprintf(bw, "%d\n%d\n", headerCRC, payloadCRC); err != nil {
		return errors.Wrap(err, "writing crcs")
	}
	if _, err := bw.Write(chunk.Payload); err != nil {
		return errors.Wrap(err, "writing payload")
	}
	return errors.Wrap(bw.Flush(), "flushing envelope")
}

// ReadEnvelope parses one chunk envelope frame from r. It does not check
// the CRCs; call Verify on the result to do that. Any read or parse
// failure is returned as an error and the connection should be closed
// with no response, per the receiver's malformed-input behavior.
func ReadEnvelope(r *bufio.Reader) (Envelope, error) {
	var e Envelope

	fileID, err := readLine(r)
	if err != nil {
		return e, errors.Wrap(err, "reading file_id")
	}
	originalName, err := readLine(r)
	if err != nil {
		return e, errors.Wrap(err, "reading original_name")
	}
	index, err := readIntLine(r)
	if err != nil {
		return e, errors.Wrap(err, "reading index")
	}
	total, err := readIntLine(r)
	if err != nil {
		return e, errors.Wrap(err, "reading total_chunks")
	}
	ttl, err := readInt64Line(r)
	if err != nil {
		return e, errors.Wrap(err, "reading ttl_seconds")
	}
	payloadSize, err := readIntLine(r)
	if err != nil {
		return e, errors.Wrap(err, "reading payload_size")
	}
	headerCRC, err := readUint32Line(r)
	if err != nil {
		return e, errors.Wrap(err, "reading header_crc32")
	}
	payloadCRC, err := readUint32Line(r)
	if err != nil {
		return e, errors.Wrap(err, "reading payload_crc32")
	}
	if payloadSize < 0 {
		return e, errors.New("wire: negative payload_size")
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return e, errors.Wrap(err, "reading payload")
	}

	e = Envelope{
		FileID:       fileID,
		OriginalName: originalName,
		Index:        index,
		TotalChunks:  total,
		TTLSeconds:   ttl,
		PayloadSize:  payloadSize,
		HeaderCRC32:  headerCRC,
		PayloadCRC32: payloadCRC,
		Payload:      payload,
	}
	return e, nil
}

// Verify recomputes both CRCs and reports whether they match the ones
// carried on the wire.
func (e Envelope) Verify() bool {
	hb := headerBytes(e.FileID, e.OriginalName, e.Index, e.TotalChunks, e.TTLSeconds, e.PayloadSize)
	if crc32.Checksum(hb, crcTable) != e.HeaderCRC32 {
		return false
	}
	return crc32.Checksum(e.Payload, crcTable) == e.PayloadCRC32
}

// ToChunk converts a verified Envelope into a filerelay.FileChunk. Callers
// must call Verify first; ToChunk does not repeat the check.
func (e Envelope) ToChunk() filerelay.FileChunk {
	return filerelay.FileChunk{
		FileID:       e.FileID,
		OriginalName: e.OriginalName,
		TTLSeconds:   e.TTLSeconds,
		Index:        e.Index,
		TotalChunks:  e.TotalChunks,
		Payload:      e.Payload,
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func readIntLine(r *bufio.Reader) (int, error) {
	s, err := readLine(r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	return n, errors.Wrapf(err, "parsing %q as int", s)
}

func readInt64Line(r *bufio.Reader) (int64, error) {
	s, err := readLine(r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, errors.Wrapf(err, "parsing %q as int64", s)
}

func readUint32Line(r *bufio.Reader) (uint32, error) {
	s, err := readLine(r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), errors.Wrapf(err, "parsing %q as uint32", s)
}
