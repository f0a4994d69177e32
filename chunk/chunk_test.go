package chunk

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/bobg/filerelay"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 100)
	cf := filerelay.CompressedFile{
		Descriptor:     filerelay.FileDescriptor{Path: "f"},
		SHA256Hex:      "deadbeef",
		CompressedData: data,
	}

	chunks, err := Split(cf, 64, "file-1", "original.bin", 0)
	if err != nil {
		t.Fatal(err)
	}

	wantTotal := (len(data) + 63) / 64
	if len(chunks) != wantTotal {
		t.Fatalf("got %d chunks, want %d", len(chunks), wantTotal)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: index %d", i, c.Index)
		}
		if c.TotalChunks != wantTotal {
			t.Errorf("chunk %d: total %d, want %d", i, c.TotalChunks, wantTotal)
		}
		if c.SHA256Hex != cf.SHA256Hex {
			t.Errorf("chunk %d: sha256 %s, want %s", i, c.SHA256Hex, cf.SHA256Hex)
		}
	}

	got, err := Join(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("join mismatch: got %d bytes, want %d bytes", len(got), len(data))
	}
}

func TestSplitEvenlyDivides(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 128)
	cf := filerelay.CompressedFile{CompressedData: data}

	chunks, err := Split(cf, 64, "file-1", "original.bin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Payload) != 64 {
			t.Errorf("chunk %d: payload len %d, want 64", c.Index, len(c.Payload))
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	chunks, err := Split(filerelay.CompressedFile{}, 64, "file-1", "original.bin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("got %d chunks, want 0", len(chunks))
	}
}

func TestSplitLastChunkSmaller(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 130)
	chunks, err := Split(filerelay.CompressedFile{CompressedData: data}, 64, "file-1", "original.bin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[2].Payload) != 2 {
		t.Fatalf("last chunk payload len %d, want 2", len(chunks[2].Payload))
	}
}

func TestSplitInvalidSize(t *testing.T) {
	if _, err := Split(filerelay.CompressedFile{}, 0, "file-1", "original.bin", 0); err != ErrInvalidSize {
		t.Fatalf("got %v, want ErrInvalidSize", err)
	}
	if _, err := Split(filerelay.CompressedFile{}, -1, "file-1", "original.bin", 0); err != ErrInvalidSize {
		t.Fatalf("got %v, want ErrInvalidSize", err)
	}
}

func TestJoinRejectsMismatchedTotal(t *testing.T) {
	chunks := []filerelay.FileChunk{
		{Index: 0, TotalChunks: 3, Payload: []byte("a")},
		{Index: 1, TotalChunks: 3, Payload: []byte("b")},
	}
	if _, err := Join(chunks); err == nil {
		t.Fatal("expected error for short chunk list")
	}
}

func TestSplitPopulatesEveryFieldButPayload(t *testing.T) {
	descriptor := filerelay.FileDescriptor{Path: "watched/report.csv"}
	cf := filerelay.CompressedFile{
		Descriptor:     descriptor,
		SHA256Hex:      "cafebabe",
		CompressedData: bytes.Repeat([]byte{0xAB}, 10),
	}

	chunks, err := Split(cf, 4, "file-42", "report.csv", 3600)
	if err != nil {
		t.Fatal(err)
	}

	want := []filerelay.FileChunk{
		{Descriptor: descriptor, SHA256Hex: "cafebabe", FileID: "file-42", OriginalName: "report.csv", TTLSeconds: 3600, Index: 0, TotalChunks: 3},
		{Descriptor: descriptor, SHA256Hex: "cafebabe", FileID: "file-42", OriginalName: "report.csv", TTLSeconds: 3600, Index: 1, TotalChunks: 3},
		{Descriptor: descriptor, SHA256Hex: "cafebabe", FileID: "file-42", OriginalName: "report.csv", TTLSeconds: 3600, Index: 2, TotalChunks: 3},
	}

	if diff := cmp.Diff(want, chunks, cmpopts.IgnoreFields(filerelay.FileChunk{}, "Payload")); diff != "" {
		t.Fatalf("chunk fields mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinRejectsOutOfOrder(t *testing.T) {
	chunks := []filerelay.FileChunk{
		{Index: 1, TotalChunks: 2, Payload: []byte("b")},
		{Index: 0, TotalChunks: 2, Payload: []byte("a")},
	}
	if _, err := Join(chunks); err == nil {
		t.Fatal("expected error for out-of-order chunks")
	}
}
