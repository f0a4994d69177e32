package listener

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

func freePorts(t *testing.T, n int) []int {
	t.Helper()
	var lns []net.Listener
	var ports []int
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		_, portStr, _ := net.SplitHostPort(ln.Addr().String())
		port, err := strconv.Atoi(portStr)
		if err != nil {
			t.Fatal(err)
		}
		lns = append(lns, ln)
		ports = append(ports, port)
	}
	for _, ln := range lns {
		ln.Close()
	}
	return ports
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestFleetStartBindsFourSystemPorts(t *testing.T) {
	ports := freePorts(t, 1)
	sysBase := ports[0]

	var mu sync.Mutex
	var seen []Channel
	f := NewFleet("127.0.0.1", sysBase, sysBase+100, func(ch Channel, conn net.Conn) {
		mu.Lock()
		seen = append(seen, ch)
		mu.Unlock()
		conn.Close()
	})
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	for i := 0; i < 4; i++ {
		conn := dial(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(sysBase+i)))
		conn.Close()
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Fatalf("got %d connections dispatched, want 4: %v", len(seen), seen)
	}
}

func TestFleetResizeGrowsAndShrinks(t *testing.T) {
	ports := freePorts(t, 1)
	sysBase := ports[0]
	dataBase := sysBase + 100

	f := NewFleet("127.0.0.1", sysBase, dataBase, func(ch Channel, conn net.Conn) { conn.Close() })
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	if err := f.Resize(3); err != nil {
		t.Fatal(err)
	}
	if f.DataCount() != 3 {
		t.Fatalf("got %d data acceptors, want 3", f.DataCount())
	}
	for i := 0; i < 3; i++ {
		conn := dial(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(dataBase+i)))
		conn.Close()
	}

	if err := f.Resize(1); err != nil {
		t.Fatal(err)
	}
	if f.DataCount() != 1 {
		t.Fatalf("got %d data acceptors after shrink, want 1", f.DataCount())
	}

	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(dataBase+2)), 200*time.Millisecond); err == nil {
		t.Fatal("expected torn-down data port to refuse connections")
	}

	if err := f.Resize(0); err != nil {
		t.Fatal(err)
	}
	if f.DataCount() != 0 {
		t.Fatalf("got %d data acceptors, want 0", f.DataCount())
	}
}
