// Package listener implements the receiver's acceptor fleet: four fixed
// system-channel acceptors plus an elastic pool of data acceptors whose
// size can change at runtime.
package listener

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Channel tags what kind of traffic an Acceptor carries.
type Channel int

// The five channel kinds. Health, Telemetry, Control, and Ack are the
// four fixed system channels; Data is the elastic pool.
const (
	Health Channel = iota
	Telemetry
	Control
	Ack
	Data
)

func (c Channel) String() string {
	switch c {
	case Health:
		return "health"
	case Telemetry:
		return "telemetry"
	case Control:
		return "control"
	case Ack:
		return "ack"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// acceptRetryDelay is how long a transient accept error pauses the loop
// before retrying, while the acceptor is still meant to be running.
const acceptRetryDelay = 250 * time.Millisecond

// Dispatcher handles one accepted connection on the given channel. It
// must not block indefinitely; the acceptor moves on to the next Accept
// call only after Dispatcher returns if it is called synchronously, so
// implementations that want overlap should spawn their own goroutine.
type Dispatcher func(channel Channel, conn net.Conn)

// Acceptor is a single bound listening socket with its own accept loop.
// Index identifies its position within its pool (system acceptors are
// indexed 0-3 by channel; data acceptors are indexed by pool position).
type Acceptor struct {
	Channel Channel
	Index   int
	Addr    string

	ln         net.Listener
	dispatcher Dispatcher

	mu      sync.Mutex
	closing bool

	wg sync.WaitGroup
}

// newAcceptor binds addr and returns an Acceptor ready to Start.
func newAcceptor(channel Channel, index int, addr string, dispatcher Dispatcher) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s acceptor %d on %s", channel, index, addr)
	}
	return &Acceptor{
		Channel:    channel,
		Index:      index,
		Addr:       addr,
		ln:         ln,
		dispatcher: dispatcher,
	}, nil
}

// Start launches the accept loop in its own goroutine.
func (a *Acceptor) Start() {
	a.wg.Add(1)
	go a.run()
}

func (a *Acceptor) run() {
	defer a.wg.Done()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			a.mu.Unlock()
			if closing {
				return
			}
			log.Printf("[listener] %s acceptor %d accept error: %v; retrying", a.Channel, a.Index, err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		a.dispatcher(a.Channel, conn)
	}
}

// Close stops accepting and closes the listening socket, then waits for
// the accept loop to exit.
func (a *Acceptor) Close() {
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	a.ln.Close()
	a.wg.Wait()
}
