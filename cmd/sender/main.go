// Command sender runs the producer side of the file-relay pipeline: it
// watches a directory, hashes and compresses new or changed files,
// chunks them, and dispatches the chunks across a pool of persistent
// TCP connections to a receiver.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"hash/fnv"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobg/flock"

	"github.com/bobg/filerelay"
	"github.com/bobg/filerelay/chunk"
	"github.com/bobg/filerelay/codec"
	"github.com/bobg/filerelay/queue"
	"github.com/bobg/filerelay/scan"
	"github.com/bobg/filerelay/sender"
	"github.com/bobg/filerelay/syschannel"
)

func main() {
	var (
		watchDir             = flag.String("watch-dir", "client_files", "directory to watch for new or changed files")
		scanIntervalMS       = flag.Int("scan-interval-ms", 2000, "how often to rescan watch-dir, in milliseconds")
		queueCapacity        = flag.Int("queue-capacity", 64, "bounded queue capacity, in chunks")
		chunkSize            = flag.Int("chunk-size", 65536, "chunk payload size in bytes")
		compressionLevel     = flag.Int("compression-level", -1, "flate compression level; out of range falls back to the default")
		connections          = flag.Int("connections", 4, "number of parallel data connections to the receiver")
		hostPrefix           = flag.String("host-prefix", "127.0.0.1", "receiver address; every connection dials this host")
		basePort             = flag.Int("base-port", 8000, "receiver's data-listener base port; connection i dials base-port+i")
		maxSendRetries       = flag.Int("max-send-retries", 3, "maximum send attempts per chunk")
		connectTimeoutMS     = flag.Int("connect-timeout-ms", 3000, "per-attempt connect timeout, in milliseconds")
		maxConnectAttempts   = flag.Int("max-connect-attempts", 5, "maximum connect attempts per send")
		connectRetryDelayMS  = flag.Int("connect-retry-delay-ms", 200, "base linear backoff between connect attempts, in milliseconds")
		controlHost          = flag.String("control-host", "127.0.0.1", "receiver's system-channel host")
		controlPort          = flag.Int("control-port", 7000, "receiver's system-channel base port (Health is here; Control is +2)")
		queueUpdateMS        = flag.Int("queue-update-ms", 1000, "how often to report queue size on the system channel, in milliseconds")
		noTCPNoDelay         = flag.Bool("no-tcp-no-delay", false, "disable TCP_NODELAY on data connections")
		recursive            = flag.Bool("recursive", true, "recurse into subdirectories of watch-dir")
	)
	flag.Parse()

	var flocker flock.Locker
	lockPath := filepath.Join(*watchDir, ".relay.lock")
	if err := os.MkdirAll(*watchDir, 0o755); err == nil {
		if err := flocker.Lock(lockPath); err != nil {
			log.Printf("[sender] locking %s: %v; continuing unlocked", lockPath, err)
		} else {
			defer flocker.Unlock(lockPath)
		}
	}

	q, err := queue.New(*queueCapacity)
	if err != nil {
		log.Fatalf("constructing queue: %v", err)
	}

	sysClient, err := syschannel.New(*controlHost, *controlPort)
	if err != nil {
		log.Fatalf("constructing system-channel client: %v", err)
	}

	engine := sender.New(sender.Options{
		HostPrefix:         *hostPrefix,
		BasePort:           *basePort,
		Connections:        *connections,
		MaxSendRetries:     *maxSendRetries,
		MaxConnectAttempts: *maxConnectAttempts,
		ConnectTimeout:     time.Duration(*connectTimeoutMS) * time.Millisecond,
		ReconnectDelay:     time.Duration(*connectRetryDelayMS) * time.Millisecond,
		TCPNoDelay:         !*noTCPNoDelay,
		MetricsInterval:    5 * time.Second,
	}, q)

	engine.OnSent = func(chunk filerelay.FileChunk, attempt int, err error) {
		if err == nil {
			sysClient.SendControlStatus(engine.TotalConnections(), engine.ActiveConnections())
		}
	}

	engine.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher := scan.New(*watchDir, *recursive)
	compressor := codec.Flate{Level: *compressionLevel}

	scanDone := make(chan struct{})
	go runScanLoop(ctx, watcher, compressor, *chunkSize, q, sysClient, time.Duration(*scanIntervalMS)*time.Millisecond, scanDone)

	go runQueueSizeLoop(ctx, q, sysClient, time.Duration(*queueUpdateMS)*time.Millisecond)

	log.Printf("[sender] watching dir=%s connections=%d receiver=%s:%d+i", *watchDir, *connections, *hostPrefix, *basePort)

	<-ctx.Done()
	log.Print("[sender] shutting down")
	<-scanDone
	engine.Stop()
	os.Exit(0)
}

func runScanLoop(ctx context.Context, watcher *scan.Watcher, compressor codec.Flate, chunkSize int, q *queue.Queue, sysClient *syschannel.Client, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOnce(ctx, watcher, compressor, chunkSize, q, sysClient)
		}
	}
}

func scanOnce(ctx context.Context, watcher *scan.Watcher, compressor codec.Flate, chunkSize int, q *queue.Queue, sysClient *syschannel.Client) {
	descriptors, err := watcher.Scan()
	if err != nil {
		log.Printf("[sender] scanning watch dir: %v", err)
		return
	}

	for _, d := range descriptors {
		cf, err := codec.HashAndCompress(ctx, d, compressor)
		if err != nil {
			log.Printf("[sender] skipping %s: %v", d.Path, err)
			continue
		}

		fileID := cf.SHA256Hex
		originalName := filepath.Base(d.Path)

		chunks, err := chunk.Split(cf, chunkSize, fileID, originalName, 0)
		if err != nil {
			log.Printf("[sender] chunking %s: %v", d.Path, err)
			continue
		}
		if len(chunks) == 0 {
			log.Printf("[sender] %s is empty, nothing to transmit", d.Path)
			continue
		}

		numericID := numericFileID(fileID)
		var sha [32]byte
		if decoded, err := hex.DecodeString(cf.SHA256Hex); err == nil && len(decoded) == len(sha) {
			copy(sha[:], decoded)
		}
		sysClient.SendFileMeta(d.Path, numericID, originalName, uint64(d.Size), uint32(len(chunks)), sha)

		for _, c := range chunks {
			sysClient.SendPatchMap(numericID, uint32(c.Index))
			if !q.Push(c) {
				log.Printf("[sender] queue closed while enqueuing %s, dropping remaining chunks", d.Path)
				break
			}
		}
	}
}

func runQueueSizeLoop(ctx context.Context, q *queue.Queue, sysClient *syschannel.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sysClient.SendQueueSize(q.Size())
		}
	}
}

// numericFileID derives the uint64 identifier the system channel's binary
// messages carry from the string file_id used on the data channel. The two
// channels use different id representations, matching the source's two
// distinct wire variants.
func numericFileID(fileID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(fileID))
	return h.Sum64()
}
