package filerelay

import (
	"time"
)

// FileDescriptor identifies a file the sender has observed on disk.
// Identity for change detection is the triple (Path, Size, ModTime).
type FileDescriptor struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Changed reports whether other describes the same path with a different
// size or modification time, i.e. whether it supersedes d as the latest
// known state of that path.
func (d FileDescriptor) Changed(other FileDescriptor) bool {
	return d.Size != other.Size || !d.ModTime.Equal(other.ModTime)
}

// CompressedFile is produced exactly once per detected change: the original
// bytes of the file named by Descriptor, hashed and compressed.
type CompressedFile struct {
	Descriptor     FileDescriptor
	SHA256Hex      string
	CompressedData []byte
}

// FileChunk is one indexed slice of a CompressedFile's bytes.
//
// FileID is an opaque identifier the sender assigns for the lifetime of
// one file's transfer; OriginalName is the base name the receiver will
// give the assembled file; TTLSeconds is the retention hint carried on
// the wire (0 means "use the receiver's default").
//
// Invariants: 0 <= Index < TotalChunks; concatenating Payload for
// Index = 0..TotalChunks-1 in order reconstructs the original
// CompressedData; TotalChunks == ceil(len(CompressedData)/chunkSize); and
// TotalChunks >= 1 iff the compressed data was non-empty.
type FileChunk struct {
	Descriptor   FileDescriptor
	SHA256Hex    string
	FileID       string
	OriginalName string
	TTLSeconds   int64
	Index        int
	TotalChunks  int
	Payload      []byte
}
