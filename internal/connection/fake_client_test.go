package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeNet hands out fakeClients and scripts how their handshakes go.
type fakeNet struct {
	mu      sync.Mutex
	clients []*fakeClient

	// dial decides the handshake outcome for the n-th client (1-based).
	dial func(n int) error

	// hold, when non-nil, blocks every handshake until it is closed.
	hold chan struct{}

	// closeHold, when non-nil, blocks every Close until it is closed.
	closeHold chan struct{}

	// autoPong answers every "ping" envelope with a "pong" envelope.
	autoPong bool
}

func (n *fakeNet) factory(cfg ClientConfig, _ *slog.Logger) Client {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &fakeClient{
		net:      n,
		n:        len(n.clients) + 1,
		cfg:      cfg,
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
		pongs:    make(chan time.Time, 1),
	}
	n.clients = append(n.clients, c)
	return c
}

func (n *fakeNet) holdClose(gate chan struct{}) {
	n.mu.Lock()
	n.closeHold = gate
	n.mu.Unlock()
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (n *fakeNet) client(i int) *fakeClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[i]
}

func (n *fakeNet) last() *fakeClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[len(n.clients)-1]
}

// fakeClient is an in-memory Client.
type fakeClient struct {
	net *fakeNet
	n   int
	cfg ClientConfig

	messages chan TimestampedMessage
	errors   chan error
	pongs    chan time.Time

	mu        sync.Mutex
	connected bool
	closed    bool
	sendErr   error
	sent      [][]byte
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if hold := c.net.hold; hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.net.dial != nil {
		if err := c.net.dial(c.n); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAlreadyClosed
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error {
	c.net.mu.Lock()
	hold := c.net.closeHold
	c.net.mu.Unlock()
	if hold != nil {
		<-hold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) Abort(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	select {
	case c.errors <- err:
	default:
	}
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()

	if c.net.autoPong {
		if msg, err := (JSONCodec{}).Decode(data); err == nil && msg.Type == "ping" {
			c.deliver(`{"type":"pong"}`)
		}
	}
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                 { return c.errors }
func (c *fakeClient) Pongs() <-chan time.Time              { return c.pongs }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// drop simulates the peer going away.
func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	select {
	case c.errors <- err:
	default:
	}
}

func (c *fakeClient) deliver(frame string) {
	c.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentTypes decodes every frame written so far and returns the message types.
func (c *fakeClient) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, data := range c.sent {
		msg, err := (JSONCodec{}).Decode(data)
		if err != nil {
			types = append(types, "?")
			continue
		}
		types = append(types, msg.Type)
	}
	return types
}

// errorLog collects errors reported through OnError.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) count(target error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, err := range l.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}

func waitState(t *testing.T, m Manager, want State, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, "state "+want.String(), func() bool {
		return m.State() == want
	})
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = "ws://fake.test/realtime"
	cfg.Heartbeat = false
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectInterval = 100 * time.Millisecond
	cfg.ConnectionTimeout = time.Second
	cfg.FlushRetryInterval = 10 * time.Millisecond
	return cfg
}

// schedulerState reads the reconnection bookkeeping under the manager lock.
func schedulerState(m Manager) (attempts int, delay time.Duration) {
	impl := m.(*manager)
	impl.mu.Lock()
	defer impl.mu.Unlock()
	return impl.sched.attempts, impl.sched.nextDelay
}
