// Package syschannel implements the sender's sideband client: it opens a
// connection to the receiver's system channel and writes the four kinds
// of records described by the wire format (queue-size updates, file
// metadata, per-chunk patch-map entries, and control status).
package syschannel

import (
	"log"
	"net"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/filerelay/wire"
)

// dedupCacheSize bounds the file-meta dedup set so a long-lived sender
// watching a large, ever-changing directory tree doesn't grow it without
// bound; entries older than the cache's capacity are simply forgotten and
// FILE_META for that (path, sha256) pair is (harmlessly) sent again.
const dedupCacheSize = 4096

// Client sends system-channel records to a fixed host:port. Every send is
// best-effort: failures are logged and otherwise ignored, since the
// system channel is a sideband and never gates the data path.
type Client struct {
	addr string
	seen *lru.Cache
}

// New constructs a Client targeting host:port.
func New(host string, port int) (*Client, error) {
	cache, err := lru.New(dedupCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "constructing dedup cache")
	}
	return &Client{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		seen: cache,
	}, nil
}

func (c *Client) dial() (net.Conn, error) {
	return net.DialTimeout("tcp", c.addr, 2*time.Second)
}

// SendQueueSize emits a QUEUE_SIZE_UPDATE record. Intended to be called
// from a periodic tick driven by the sender's queue-size probe.
func (c *Client) SendQueueSize(size int) {
	conn, err := c.dial()
	if err != nil {
		log.Printf("[syschannel] queue size update: %v", err)
		return
	}
	defer conn.Close()

	if err := wire.WriteQueueSizeUpdate(conn, wire.QueueSizeUpdate{QueueSize: uint32(size)}); err != nil {
		log.Printf("[syschannel] queue size update: %v", err)
	}
}

// SendFileMeta emits a FILE_META record, but at most once per (path,
// sha256) pair while that pair is among the last dedupCacheSize pairs the
// client has sent; a pair evicted from the dedup cache is sent again.
func (c *Client) SendFileMeta(path string, fileID uint64, name string, originalSize uint64, totalPatches uint32, sha256 [32]byte) {
	key := dedupKey(path, sha256)
	if _, ok := c.seen.Get(key); ok {
		return
	}

	conn, err := c.dial()
	if err != nil {
		log.Printf("[syschannel] file meta: %v", err)
		return
	}
	defer conn.Close()

	m := wire.FileMeta{FileID: fileID, Name: name, OriginalSize: originalSize, TotalPatches: totalPatches, SHA256: sha256}
	if err := wire.WriteFileMeta(conn, m); err != nil {
		log.Printf("[syschannel] file meta: %v", err)
		return
	}
	c.seen.Add(key, struct{}{})
}

// SendPatchMap emits a FILE_PATCH_MAP record as a chunk is enqueued.
func (c *Client) SendPatchMap(fileID uint64, patchIndex uint32) {
	conn, err := c.dial()
	if err != nil {
		log.Printf("[syschannel] patch map: %v", err)
		return
	}
	defer conn.Close()

	if err := wire.WriteFilePatchMap(conn, wire.FilePatchMap{FileID: fileID, PatchIndex: patchIndex}); err != nil {
		log.Printf("[syschannel] patch map: %v", err)
	}
}

// SendControlStatus emits a CONTROL status record after a successful
// chunk send, carrying the pool's total and active connection counts
// packed into the command/value fields the wire format offers.
func (c *Client) SendControlStatus(totalConnections, activeConnections int) {
	conn, err := c.dial()
	if err != nil {
		log.Printf("[syschannel] control status: %v", err)
		return
	}
	defer conn.Close()

	m := wire.Control{Command: byte(totalConnections), ValueSeconds: uint32(activeConnections)}
	if err := wire.WriteControl(conn, m); err != nil {
		log.Printf("[syschannel] control status: %v", err)
	}
}

type dedupEntry struct {
	path   string
	sha256 [32]byte
}

func dedupKey(path string, sha256 [32]byte) dedupEntry {
	return dedupEntry{path: path, sha256: sha256}
}
