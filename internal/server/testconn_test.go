// Package server test doubles: an in-memory Conn with scripted input and
// recorded output, plus small polling helpers shared by the package tests.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// timeoutError satisfies net.Error so session code treats it like a read
// deadline expiring on a real socket.
type timeoutError struct{}

func (*timeoutError) Error() string   { return "read timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return false }

var errReadTimeout net.Error = &timeoutError{}

// fakeConn is an in-memory Conn. Incoming frames are scripted through a
// channel; frames written by the code under test are recorded for asserts.
type fakeConn struct {
	addr     string
	incoming chan []byte

	mu         sync.Mutex
	sent       [][]byte
	failWrites bool
	closed     bool

	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		incoming: make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadLine(deadline time.Time) ([]byte, error) {
	var expire <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case line, ok := <-c.incoming:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	case <-c.closedCh:
		return nil, io.EOF
	case <-expire:
		return nil, errReadTimeout
	}
}

func (c *fakeConn) WriteLine(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if c.failWrites {
		return errors.New("simulated write failure")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closedCh)
	})
	return nil
}

// script queues one frame for the session to read.
func (c *fakeConn) script(line string) {
	c.incoming <- []byte(line)
}

// endInput makes the next read return EOF, like a peer hanging up.
func (c *fakeConn) endInput() {
	close(c.incoming)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentLines returns a copy of everything written to this peer so far.
func (c *fakeConn) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]string, len(c.sent))
	for i, frame := range c.sent {
		lines[i] = string(frame)
	}
	return lines
}

func (c *fakeConn) setFailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = fail
}

// countContaining counts recorded frames containing substr.
func (c *fakeConn) countContaining(substr string) int {
	count := 0
	for _, line := range c.sentLines() {
		if strings.Contains(line, substr) {
			count++
		}
	}
	return count
}

// newTestRelay builds a relay with timeouts short enough for tests but long
// enough that an active session never expires mid-assert.
func newTestRelay() *Relay {
	relay := NewRelay(NewConfig())
	relay.HandshakeTimeout = time.Second
	relay.IdleTimeout = 5 * time.Second
	return relay
}

// waitFor polls cond until it reports true or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
