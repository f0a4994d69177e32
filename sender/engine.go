// Package sender implements the round-robin, multi-connection dispatch
// engine: chunks are popped off a bounded queue, sent over one of N
// persistent connection slots with bounded in-flight and per-chunk retry,
// and drained cleanly on shutdown.
package sender

import (
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobg/filerelay"
	"github.com/bobg/filerelay/metrics"
	"github.com/bobg/filerelay/queue"
	"github.com/bobg/filerelay/wire"
)

// Options configures an Engine. It mirrors the sender's CLI flags.
type Options struct {
	// HostPrefix is the receiver's address; every connection dials it at
	// BasePort+index, since the receiver binds all its data acceptors on
	// one address (see the listener fleet).
	HostPrefix         string
	BasePort           int
	Connections        int
	MaxSendRetries     int
	MaxConnectAttempts int
	ConnectTimeout     time.Duration
	ReconnectDelay     time.Duration
	TCPNoDelay         bool
	MetricsInterval    time.Duration
}

type pendingChunk struct {
	chunk   filerelay.FileChunk
	attempt int
}

// Engine is the sender-side dispatch loop. It owns a fixed pool of
// Connections and a retry queue; the caller owns the bounded queue it
// pops chunks from.
type Engine struct {
	opts        Options
	queue       *queue.Queue
	connections []*Connection

	mu       sync.Mutex
	cond     *sync.Cond
	nextConn int
	inFlight int
	finished bool
	retry    []pendingChunk

	Metrics *metrics.Window

	// OnSent, if set, is invoked (outside any lock) after every completed
	// send attempt, successful or not, so a caller can mirror status onto
	// the system channel.
	OnSent func(chunk filerelay.FileChunk, attempt int, err error)

	started  bool
	workerWG sync.WaitGroup
	sendWG   sync.WaitGroup
}

// New constructs an Engine that pops chunks from q and dispatches them
// across opts.Connections connection slots.
func New(opts Options, q *queue.Queue) *Engine {
	if opts.Connections <= 0 {
		opts.Connections = 1
	}

	conns := make([]*Connection, opts.Connections)
	for i := range conns {
		conns[i] = &Connection{
			Index:              i,
			Host:               opts.HostPrefix,
			Port:               opts.BasePort + i,
			MaxConnectAttempts: opts.MaxConnectAttempts,
			ConnectTimeout:     opts.ConnectTimeout,
			ReconnectDelay:     opts.ReconnectDelay,
			TCPNoDelay:         opts.TCPNoDelay,
		}
	}

	e := &Engine{
		opts:        opts,
		queue:       q,
		connections: conns,
		Metrics:     metrics.New("sender", opts.MetricsInterval),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the dispatch worker. It is idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.workerWG.Add(1)
	go e.run()
}

// Stop closes the queue, drains retries until in-flight reaches zero, and
// closes every connection. It blocks until the worker has fully exited.
func (e *Engine) Stop() {
	e.queue.Close()
	e.workerWG.Wait()

	var g errgroup.Group
	for _, c := range e.connections {
		c := c
		g.Go(func() error {
			c.Close()
			return nil
		})
	}
	g.Wait()
}

// TotalConnections reports the size of the connection pool.
func (e *Engine) TotalConnections() int {
	return len(e.connections)
}

// ActiveConnections reports the number of sends currently in flight.
func (e *Engine) ActiveConnections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

func (e *Engine) run() {
	defer e.workerWG.Done()

	for {
		chunk, attempt, ok := e.takeNext()
		if !ok {
			break
		}
		e.acquireSlot()

		conn := e.roundRobin()
		e.sendWG.Add(1)
		go e.dispatch(conn, chunk, attempt)
	}

	e.sendWG.Wait()
	e.Metrics.Flush(true)
}

// takeNext returns the next chunk to send, preferring the retry queue
// over the main queue. It returns ok=false only once the main queue is
// closed and drained, the retry queue is empty, and in-flight is zero.
func (e *Engine) takeNext() (filerelay.FileChunk, int, bool) {
	for {
		e.mu.Lock()
		for {
			if len(e.retry) > 0 {
				p := e.retry[0]
				e.retry = e.retry[1:]
				e.mu.Unlock()
				return p.chunk, p.attempt, true
			}
			if e.finished {
				if e.inFlight == 0 {
					e.mu.Unlock()
					return filerelay.FileChunk{}, 0, false
				}
				e.cond.Wait()
				continue
			}
			break
		}
		e.mu.Unlock()

		item, popped := e.queue.Pop()
		if popped {
			return item.(filerelay.FileChunk), 1, true
		}

		e.mu.Lock()
		e.finished = true
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

func (e *Engine) acquireSlot() {
	e.mu.Lock()
	for e.inFlight >= len(e.connections) {
		e.cond.Wait()
	}
	e.inFlight++
	e.mu.Unlock()
}

func (e *Engine) roundRobin() *Connection {
	e.mu.Lock()
	c := e.connections[e.nextConn]
	e.nextConn = (e.nextConn + 1) % len(e.connections)
	e.mu.Unlock()
	return c
}

func (e *Engine) dispatch(conn *Connection, chunk filerelay.FileChunk, attempt int) {
	defer e.sendWG.Done()

	err := conn.Send(func(nc net.Conn) error {
		return wire.WriteChunk(nc, chunk)
	})

	e.mu.Lock()
	e.inFlight--
	e.Metrics.Set("queue_size", int64(e.queue.Size()))
	e.Metrics.Set("queue_capacity", int64(e.queue.Capacity()))
	if err != nil {
		if attempt < e.opts.MaxSendRetries {
			e.retry = append(e.retry, pendingChunk{chunk: chunk, attempt: attempt + 1})
		} else {
			e.Metrics.Add("retries", int64(attempt-1))
		}
	} else {
		e.Metrics.Add("chunks", 1)
		e.Metrics.Add("bytes", int64(len(chunk.Payload)))
		e.Metrics.Add("retries", int64(attempt-1))
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	if err != nil {
		if attempt < e.opts.MaxSendRetries {
			log.Printf("[sender] send failed file=%s index=%d attempt=%d: %v; retrying", chunk.FileID, chunk.Index, attempt, err)
		} else {
			log.Printf("[sender] dropping chunk file=%s index=%d after %d attempts: %v", chunk.FileID, chunk.Index, attempt, err)
		}
	}
	if e.OnSent != nil {
		e.OnSent(chunk, attempt, err)
	}
}
