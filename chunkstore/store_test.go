package chunkstore

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobg/filerelay"
	"github.com/bobg/filerelay/wire"
)

// makeEnvelope builds a correctly-CRC'd envelope by round-tripping
// through the real wire encoder/decoder, the same path a live connection
// would take.
func makeEnvelope(t *testing.T, fileID, name string, index, total int, payload []byte, ttl int64) wire.Envelope {
	t.Helper()
	chunk := filerelay.FileChunk{
		FileID:       fileID,
		OriginalName: name,
		Index:        index,
		TotalChunks:  total,
		TTLSeconds:   ttl,
		Payload:      payload,
	}

	var buf bytes.Buffer
	if err := wire.WriteChunk(&buf, chunk); err != nil {
		t.Fatal(err)
	}
	env, err := wire.ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestStoreChunkSingleChunkCompletes(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	env := makeEnvelope(t, "f1", "hello.bin", 0, 1, []byte("Hello"), 0)
	record, err := s.StoreChunk(env)
	if err != nil {
		t.Fatal(err)
	}
	if record == nil {
		t.Fatal("expected a completed record")
	}
	if record.FileID != "f1" || record.OriginalName != "hello.bin" || record.TotalChunks != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}

	got, err := ioutil.ReadFile(record.ChunkFiles[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello" {
		t.Fatalf("got %q, want %q", got, "Hello")
	}

	manifest := filepath.Join(dir, "patches", "f1", "ids.list")
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
}

func TestStoreChunkMultiChunkOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	envs := []wire.Envelope{
		makeEnvelope(t, "f2", "big.bin", 2, 4, []byte("dddd"), 0),
		makeEnvelope(t, "f2", "big.bin", 0, 4, []byte("aaaa"), 0),
		makeEnvelope(t, "f2", "big.bin", 3, 4, []byte("eeee"), 0),
		makeEnvelope(t, "f2", "big.bin", 1, 4, []byte("cccc"), 0),
	}

	var final *PayloadRecord
	for i, env := range envs {
		rec, err := s.StoreChunk(env)
		if err != nil {
			t.Fatal(err)
		}
		if i < len(envs)-1 && rec != nil {
			t.Fatalf("got a completed record too early at step %d", i)
		}
		if i == len(envs)-1 {
			final = rec
		}
	}
	if final == nil {
		t.Fatal("expected completion on last chunk")
	}
	for i, path := range final.ChunkFiles {
		if path == "" {
			t.Fatalf("chunk file %d missing", i)
		}
	}
}

func TestStoreChunkRejectsCorruptCRC(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	env := makeEnvelope(t, "f3", "x.bin", 0, 1, []byte("data"), 0)
	env.PayloadCRC32 ^= 0xFFFFFFFF // corrupt

	record, err := s.StoreChunk(env)
	if err != nil {
		t.Fatal(err)
	}
	if record != nil {
		t.Fatal("expected rejection, got a record")
	}

	if _, err := os.Stat(filepath.Join(dir, "patches", "f3")); !os.IsNotExist(err) {
		t.Fatalf("expected no manifest dir to be created, stat err: %v", err)
	}
}

func TestMarkPublishedRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	env := makeEnvelope(t, "f4", "y.bin", 0, 1, []byte("z"), 0)
	if _, err := s.StoreChunk(env); err != nil {
		t.Fatal(err)
	}
	s.MarkPublished("f4")

	s.mu.Lock()
	_, ok := s.entries["f4"]
	s.mu.Unlock()
	if ok {
		t.Fatal("expected entry to be removed after MarkPublished")
	}
}

func TestCleanupExpiredRemovesStalePatches(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	env := makeEnvelope(t, "f5", "z.bin", 0, 2, []byte("partial"), 0)
	if _, err := s.StoreChunk(env); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	s.CleanupExpired(time.Now())

	if _, err := os.Stat(filepath.Join(dir, "patches", "f5")); !os.IsNotExist(err) {
		t.Fatalf("expected patches dir removed, stat err: %v", err)
	}
	s.mu.Lock()
	_, ok := s.entries["f5"]
	s.mu.Unlock()
	if ok {
		t.Fatal("expected in-memory entry removed")
	}
}

func TestUpdateTTLPersistsToExistingManifests(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	env := makeEnvelope(t, "f6", "w.bin", 0, 2, []byte("part"), 0)
	if _, err := s.StoreChunk(env); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateTTL(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	content, err := ioutil.ReadFile(filepath.Join(dir, "patches", "f6", "ids.list"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), ",5,") {
		t.Fatalf("manifest does not reflect new ttl: %s", content)
	}
}
