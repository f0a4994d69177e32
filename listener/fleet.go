package listener

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// systemChannels lists the four fixed system channels in the port order
// they're bound at: sys_base+0..3.
var systemChannels = [4]Channel{Health, Telemetry, Control, Ack}

// Fleet owns the receiver's full set of acceptors: the four fixed system
// acceptors plus a resizable pool of data acceptors.
type Fleet struct {
	address  string
	sysBase  int
	dataBase int
	dispatch Dispatcher

	mu       sync.Mutex
	system   []*Acceptor
	data     []*Acceptor
	stopping bool
}

// NewFleet constructs a Fleet bound to address, with system channels on
// sysBase+{0,1,2,3} and an initially empty data pool rooted at dataBase.
// Call Start to bind the system acceptors and Resize to populate the data
// pool.
func NewFleet(address string, sysBase, dataBase int, dispatch Dispatcher) *Fleet {
	return &Fleet{
		address:  address,
		sysBase:  sysBase,
		dataBase: dataBase,
		dispatch: dispatch,
	}
}

// Start binds and launches the four fixed system acceptors. Failing to
// bind any of them is fatal: the caller should abort startup.
func (f *Fleet) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, ch := range systemChannels {
		port := f.sysBase + i
		a, err := newAcceptor(ch, i, net.JoinHostPort(f.address, strconv.Itoa(port)), f.dispatch)
		if err != nil {
			for _, started := range f.system {
				started.Close()
			}
			f.system = nil
			return errors.Wrapf(err, "binding system acceptor %s", ch)
		}
		a.Start()
		f.system = append(f.system, a)
	}
	return nil
}

// Resize grows or shrinks the data acceptor pool to newCount. Growth
// binds and starts additional acceptors at the next indices; shrinkage
// closes the surplus acceptors in LIFO order and joins their workers
// before returning. Resize and Stop are mutually exclusive.
func (f *Fleet) Resize(newCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopping {
		return nil
	}

	current := len(f.data)
	switch {
	case newCount > current:
		for i := current; i < newCount; i++ {
			port := f.dataBase + i
			a, err := newAcceptor(Data, i, net.JoinHostPort(f.address, strconv.Itoa(port)), f.dispatch)
			if err != nil {
				return errors.Wrapf(err, "growing data pool to %d", newCount)
			}
			a.Start()
			f.data = append(f.data, a)
		}
	case newCount < current:
		var g errgroup.Group
		for i := current - 1; i >= newCount; i-- {
			a := f.data[i]
			g.Go(func() error {
				a.Close()
				return nil
			})
		}
		g.Wait()
		f.data = f.data[:newCount]
	}
	return nil
}

// DataCount reports the current size of the data acceptor pool.
func (f *Fleet) DataCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

// Stop cancels every acceptor, system and data, and joins their workers.
func (f *Fleet) Stop() {
	f.mu.Lock()
	f.stopping = true
	system := f.system
	data := f.data
	f.system = nil
	f.data = nil
	f.mu.Unlock()

	var g errgroup.Group
	for i := len(data) - 1; i >= 0; i-- {
		a := data[i]
		g.Go(func() error {
			a.Close()
			return nil
		})
	}
	g.Wait()

	for _, a := range system {
		a.Close()
	}
}
