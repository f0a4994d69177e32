// Package chunkstore validates and persists chunks arriving on the data
// channel: it checks CRCs, writes each payload atomically to disk, tracks
// which indices have been received for a file, journals a manifest, and
// hands off a PayloadRecord once a file is complete. Expired partial
// payloads are reaped on request.
package chunkstore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/filerelay/wire"
)

const stateComplete = "complete"
const statePartial = "partial"

// PayloadRecord is handed to the assembler once every chunk of a file has
// arrived. Every entry of ChunkFiles names a file whose bytes are the
// exact payload of that index.
type PayloadRecord struct {
	FileID       string
	OriginalName string
	TotalChunks  int
	PatchesDir   string
	FilesDir     string
	ChunkFiles   []string
}

type payloadEntry struct {
	record     PayloadRecord
	received   map[int]bool
	lastUpdate time.Time
	ttl        time.Duration
	state      string
}

// Store persists chunk payloads under root/patches and hands assembled
// files off to be written under root/files. A single mutex guards the
// in-memory entry map; the small manifest writes it performs are done
// under that same lock, since write volume is tiny next to the payload
// bytes shipped at low rates.
type Store struct {
	patchesDir string
	filesDir   string

	mu         sync.Mutex
	entries    map[string]*payloadEntry
	defaultTTL time.Duration
}

// New constructs a Store rooted at root, with defaultTTL applied to
// chunks that don't carry their own positive TTL.
func New(root string, defaultTTL time.Duration) (*Store, error) {
	patchesDir := filepath.Join(root, "patches")
	filesDir := filepath.Join(root, "files")
	if err := os.MkdirAll(patchesDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating patches dir")
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating files dir")
	}
	return &Store{
		patchesDir: patchesDir,
		filesDir:   filesDir,
		entries:    make(map[string]*payloadEntry),
		defaultTTL: defaultTTL,
	}, nil
}

// FilesDir reports the root directory assembled files are published
// into.
func (s *Store) FilesDir() string {
	return s.filesDir
}

// StoreChunk validates env's CRCs, persists its payload, and updates the
// manifest for its file. It returns a non-nil PayloadRecord exactly when
// this chunk completed the file.
func (s *Store) StoreChunk(env wire.Envelope) (*PayloadRecord, error) {
	if !env.Verify() {
		log.Printf("[chunkstore] crc mismatch file=%s index=%d", env.FileID, env.Index)
		return nil, nil
	}

	manifestDir := filepath.Join(s.patchesDir, env.FileID)
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating manifest dir for %s", env.FileID)
	}

	patchPath := filepath.Join(manifestDir, fmt.Sprintf("patch_%d.bin", env.Index))
	if err := writeAtomic(patchPath, env.Payload); err != nil {
		return nil, errors.Wrapf(err, "writing patch %d for %s", env.Index, env.FileID)
	}

	s.mu.Lock()
	entry, ok := s.entries[env.FileID]
	if !ok {
		entry = &payloadEntry{
			record: PayloadRecord{
				FileID:       env.FileID,
				OriginalName: env.OriginalName,
				PatchesDir:   manifestDir,
				FilesDir:     s.filesDir,
			},
			received: make(map[int]bool),
		}
		s.entries[env.FileID] = entry
	}
	if len(entry.record.ChunkFiles) < env.TotalChunks {
		grown := make([]string, env.TotalChunks)
		copy(grown, entry.record.ChunkFiles)
		entry.record.ChunkFiles = grown
	}
	entry.record.TotalChunks = env.TotalChunks
	entry.record.ChunkFiles[env.Index] = patchPath
	entry.received[env.Index] = true
	entry.lastUpdate = time.Now()
	if env.TTLSeconds > 0 {
		entry.ttl = time.Duration(env.TTLSeconds) * time.Second
	} else {
		entry.ttl = s.defaultTTL
	}
	wasComplete := entry.state == stateComplete
	complete := len(entry.received) == entry.record.TotalChunks
	if complete {
		entry.state = stateComplete
	} else {
		entry.state = statePartial
	}
	snapshot := entry.record
	ttlSeconds := int64(entry.ttl / time.Second)
	state := entry.state
	receivedChunks := len(entry.received)
	totalChunks := entry.record.TotalChunks
	manifestErr := writeManifest(manifestDir, env.FileID, env.OriginalName, ttlSeconds, state)
	s.mu.Unlock()

	if manifestErr != nil {
		return nil, errors.Wrapf(manifestErr, "writing manifest for %s", env.FileID)
	}

	completeness := 100.0
	if totalChunks > 0 {
		completeness = 100.0 * float64(receivedChunks) / float64(totalChunks)
	}
	log.Printf("[chunkstore] chunk stored file=%s index=%d/%d size=%dB completeness=%d/%d (%.1f%%)",
		env.FileID, env.Index, totalChunks, len(env.Payload), receivedChunks, totalChunks, completeness)

	if !complete || wasComplete {
		return nil, nil
	}
	return &snapshot, nil
}

// MarkPublished removes the in-memory PayloadEntry for fileID. The caller
// is expected to have already removed its patches directory as part of
// assembly.
func (s *Store) MarkPublished(fileID string) {
	s.mu.Lock()
	delete(s.entries, fileID)
	s.mu.Unlock()
}

// UpdateTTL atomically replaces the store's default TTL and re-persists
// the manifest for every currently tracked entry with the new value.
func (s *Store) UpdateTTL(newTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultTTL = newTTL
	type manifestUpdate struct {
		dir, fileID, originalName string
		ttlSeconds                int64
		state                     string
	}
	var updates []manifestUpdate
	for fileID, entry := range s.entries {
		entry.ttl = newTTL
		updates = append(updates, manifestUpdate{
			dir:          entry.record.PatchesDir,
			fileID:       fileID,
			originalName: entry.record.OriginalName,
			ttlSeconds:   int64(newTTL / time.Second),
			state:        entry.state,
		})
	}

	for _, u := range updates {
		if err := writeManifest(u.dir, u.fileID, u.originalName, u.ttlSeconds, u.state); err != nil {
			return errors.Wrapf(err, "updating ttl manifest for %s", u.fileID)
		}
	}
	return nil
}

// CleanupExpired removes the patches directory and in-memory entry for
// every file whose last update is older than its TTL relative to now.
func (s *Store) CleanupExpired(now time.Time) {
	s.mu.Lock()
	var expired []string
	for fileID, entry := range s.entries {
		if now.Sub(entry.lastUpdate) > entry.ttl {
			expired = append(expired, fileID)
		}
	}
	for _, fileID := range expired {
		delete(s.entries, fileID)
	}
	s.mu.Unlock()

	for _, fileID := range expired {
		dir := filepath.Join(s.patchesDir, fileID)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[chunkstore] removing expired patches dir %s: %v", dir, err)
			continue
		}
		log.Printf("[chunkstore] reaped expired payload file=%s", fileID)
	}
}

func writeManifest(dir, fileID, originalName string, ttlSeconds int64, state string) error {
	line := fmt.Sprintf("%s,%s,%d,%d,%s\n", fileID, originalName, time.Now().Unix(), ttlSeconds, state)
	return writeAtomic(filepath.Join(dir, "ids.list"), []byte(line))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "syncing temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "renaming into place")
	}
	return nil
}
