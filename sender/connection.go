package sender

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Connection is a sender-owned TCP endpoint identified by Index. Its
// socket is lazily (re)established: the receiver's data channel handles
// exactly one chunk frame per accepted connection and closes afterward,
// so in practice every chunk redials.
type Connection struct {
	Index int
	Host  string
	Port  int

	MaxConnectAttempts int
	ConnectTimeout     time.Duration
	ReconnectDelay     time.Duration
	TCPNoDelay         bool

	mu   sync.Mutex
	conn net.Conn
}

func (c *Connection) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ensureConnected returns the connection's live socket, dialing it if
// necessary. On connect failure it retries up to MaxConnectAttempts times
// with a linearly increasing delay (reconnect_delay * attempt).
func (c *Connection) ensureConnected() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	attempts := c.MaxConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := net.DialTimeout("tcp", c.addr(), c.ConnectTimeout)
		if err == nil {
			if c.TCPNoDelay {
				if tc, ok := conn.(*net.TCPConn); ok {
					_ = tc.SetNoDelay(true)
				}
			}
			c.conn = conn
			return conn, nil
		}
		lastErr = err
		if attempt < attempts {
			time.Sleep(c.ReconnectDelay * time.Duration(attempt))
		}
	}
	return nil, errors.Wrapf(lastErr, "connecting to %s after %d attempts", c.addr(), attempts)
}

// Send dials the connection if needed and calls write with the live
// socket. The socket is always closed afterward, win or lose, since the
// wire protocol is one frame per accepted connection: a write failure
// leaves nothing to reuse, and a successful write is immediately followed
// by the receiver closing its end.
func (c *Connection) Send(write func(net.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConnected()
	if err != nil {
		return err
	}

	err = write(conn)
	conn.Close()
	c.conn = nil
	return errors.Wrapf(err, "writing to %s", c.addr())
}

// Close closes the underlying socket, if any.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
