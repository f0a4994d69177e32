// Command receiver runs the consumer side of the file-relay pipeline: it
// accepts chunks over an elastic pool of data listeners, validates and
// persists them, assembles completed files, and answers a runtime
// control channel that can resize the pool and change the retention
// TTL.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/bobg/flock"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/api/option"

	"github.com/bobg/filerelay/archive"
	"github.com/bobg/filerelay/assembler"
	"github.com/bobg/filerelay/chunkstore"
	"github.com/bobg/filerelay/codec"
	"github.com/bobg/filerelay/control"
	"github.com/bobg/filerelay/ledger"
	"github.com/bobg/filerelay/listener"
	"github.com/bobg/filerelay/metrics"
	"github.com/bobg/filerelay/sweeper"
	"github.com/bobg/filerelay/wire"
)

func main() {
	var (
		address      = flag.String("address", "0.0.0.0", "listen address")
		sysBase      = flag.Int("sys-base", 7000, "base port for the four fixed system channels")
		dataBase     = flag.Int("data-base", 8000, "base port for the elastic data-listener pool")
		x            = flag.Int("x", 2, "initial number of data listeners")
		ttl          = flag.Int64("ttl", 3600, "retention TTL in seconds, for both partial payloads and completed files")
		root         = flag.String("root", "server_data", "root directory for patches/ and files/")
		ledgerDriver = flag.String("ledger-driver", "sqlite3", `ledger database driver: "sqlite3", "postgres", or "none"`)
		ledgerDSN    = flag.String("ledger-dsn", "receiver_ledger.db", "ledger data source name")
		archiveCreds = flag.String("archive-creds", "", "path to GCS credentials file; empty disables archival")
		archiveBucket = flag.String("archive-bucket", "", "GCS bucket name for archived files")
	)
	flag.Parse()

	var flocker flock.Locker
	lockPath := *root + "/.relay.lock"
	if err := os.MkdirAll(*root, 0o755); err != nil {
		log.Fatalf("creating root %s: %v", *root, err)
	}
	if err := flocker.Lock(lockPath); err != nil {
		log.Fatalf("locking %s: %v", lockPath, err)
	}
	defer flocker.Unlock(lockPath)

	store, err := chunkstore.New(*root, time.Duration(*ttl)*time.Second)
	if err != nil {
		log.Fatalf("constructing chunk store: %v", err)
	}
	asm := assembler.New(codec.Flate{})

	completionLedger, closeLedger := buildLedger(*ledgerDriver, *ledgerDSN)
	if closeLedger != nil {
		defer closeLedger()
	}
	fileArchiver := buildArchiver(*archiveCreds, *archiveBucket)

	metricsWindow := metrics.New("receiver", 5*time.Second)
	completedTTLSeconds := int64(*ttl)

	sweep := sweeper.New(store, store.FilesDir(), func() int { return int(atomic.LoadInt64(&completedTTLSeconds)) }, sweeper.DefaultInterval)

	var fleet *listener.Fleet
	dispatch := func(channel listener.Channel, conn net.Conn) {
		metricsWindow.Add("accepted", 1)
		switch channel {
		case listener.Health:
			respondAndClose(conn, "OK\n")
		case listener.Telemetry:
			respondAndClose(conn, metricsWindow.Snapshot()+"\n")
		case listener.Ack:
			respondAndClose(conn, "ACK\n")
		case listener.Control:
			go handleControl(conn, fleet, store, &completedTTLSeconds, metricsWindow)
		case listener.Data:
			go handleData(conn, store, asm, completionLedger, fileArchiver, metricsWindow)
		}
	}

	fleet = listener.NewFleet(*address, *sysBase, *dataBase, dispatch)
	if err := fleet.Start(); err != nil {
		log.Fatalf("binding system acceptors: %v", err)
	}
	if err := fleet.Resize(*x); err != nil {
		log.Fatalf("starting data listeners: %v", err)
	}
	sweep.Start()

	log.Printf("[receiver] listening address=%s sys_base=%d data_base=%d data_listeners=%d ttl=%ds root=%s",
		*address, *sysBase, *dataBase, *x, *ttl, *root)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Print("[receiver] shutting down")
	sweep.Stop()
	fleet.Stop()
	metricsWindow.Flush(true)
	os.Exit(0)
}

func respondAndClose(conn net.Conn, line string) {
	defer conn.Close()
	if _, err := conn.Write([]byte(line)); err != nil {
		log.Printf("[receiver] writing response: %v", err)
	}
}

func handleControl(conn net.Conn, fleet *listener.Fleet, store *chunkstore.Store, completedTTLSeconds *int64, metricsWindow *metrics.Window) {
	defer conn.Close()

	plane := &control.Plane{
		Resize: func(n int) error {
			return fleet.Resize(n)
		},
		SetTTL: func(seconds int) error {
			atomic.StoreInt64(completedTTLSeconds, int64(seconds))
			return store.UpdateTTL(time.Duration(seconds) * time.Second)
		},
		Status: func() (int, int) {
			return fleet.DataCount(), int(atomic.LoadInt64(completedTTLSeconds))
		},
		OnPing: func() {
			metricsWindow.Flush(true)
		},
	}
	plane.Serve(conn)
}

func handleData(conn net.Conn, store *chunkstore.Store, asm *assembler.Assembler, completionLedger ledger.Ledger, fileArchiver archive.Archiver, metricsWindow *metrics.Window) {
	defer conn.Close()

	env, err := wire.ReadEnvelope(bufio.NewReader(conn))
	if err != nil {
		log.Printf("[receiver] malformed chunk frame: %v", err)
		return
	}
	if !env.Verify() {
		log.Printf("[receiver] crc mismatch file=%s index=%d, dropping connection with no response", env.FileID, env.Index)
		return
	}

	record, err := store.StoreChunk(env)
	if err != nil {
		log.Printf("[receiver] storing chunk file=%s index=%d: %v", env.FileID, env.Index, err)
		return
	}

	if _, err := conn.Write([]byte("STORED\n")); err != nil {
		log.Printf("[receiver] writing STORED response: %v", err)
	}
	metricsWindow.Add("chunks", 1)
	metricsWindow.Add("bytes", int64(len(env.Payload)))

	if record == nil {
		return
	}

	finalPath, err := asm.Assemble(*record)
	if err != nil {
		log.Printf("[receiver] assembling file=%s: %v", record.FileID, err)
		return
	}
	store.MarkPublished(record.FileID)
	metricsWindow.Add("published", 1)

	if completionLedger != nil {
		info, statErr := os.Stat(finalPath)
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		err := completionLedger.RecordCompletion(context.Background(), ledger.Completion{
			FileID:       record.FileID,
			OriginalName: record.OriginalName,
			TotalChunks:  record.TotalChunks,
			ByteSize:     size,
			CompletedAt:  time.Now(),
		})
		if err != nil {
			log.Printf("[receiver] recording completion in ledger: %v", err)
		}
	}

	if fileArchiver != nil {
		go func() {
			if err := fileArchiver.Archive(context.Background(), record.FileID, record.OriginalName, finalPath); err != nil {
				log.Printf("[archive] uploading %s: %v", finalPath, err)
			}
		}()
	}
}

func buildLedger(driver, dsn string) (ledger.Ledger, func()) {
	switch driver {
	case "none", "":
		return nil, nil
	case "sqlite3", "postgres":
		db, err := sql.Open(driver, dsn)
		if err != nil {
			log.Printf("[ledger] opening %s database %s: %v; continuing without a ledger", driver, dsn, err)
			return nil, nil
		}
		l, err := ledger.NewSQL(context.Background(), db)
		if err != nil {
			log.Printf("[ledger] initializing schema: %v; continuing without a ledger", err)
			db.Close()
			return nil, nil
		}
		return ledger.NewLogging(l), func() { db.Close() }
	default:
		log.Printf("[ledger] unknown driver %q; continuing without a ledger", driver)
		return nil, nil
	}
}

func buildArchiver(credsPath, bucketName string) archive.Archiver {
	if credsPath == "" || bucketName == "" {
		return nil
	}
	ctx := context.Background()
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credsPath))
	if err != nil {
		log.Printf("[archive] creating cloud storage client: %v; continuing without archival", err)
		return nil
	}
	return archive.NewGCS(client.Bucket(bucketName))
}
