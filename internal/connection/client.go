package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/rtlink/internal/version"
)

// Client represents a single WebSocket connection (the transport socket).
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection with a normal-closure code.
	Close() error

	// Abort reports err on the errors channel and then closes the connection.
	// The owner sees it exactly like a transport failure.
	Abort(err error) error

	// Send queues a frame for the write loop. It never blocks: ErrBackpressure
	// is returned when the write buffer is full.
	Send(data []byte) error

	// Messages returns a channel of inbound frames with receive timestamps.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel carrying the first connection error.
	Errors() <-chan error

	// Pongs returns a channel signalled whenever a pong control frame arrives.
	Pongs() <-chan time.Time

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory creates transport clients. The manager calls it once per connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	pongs    chan time.Time
	done     chan struct{}

	// Outbound frames drained by writeLoop
	outbox chan []byte

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FrameType == 0 {
		cfg.FrameType = websocket.TextMessage
	}
	if cfg.WriteBufferSize < 1 {
		cfg.WriteBufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultClientConfig().WriteTimeout
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		pongs:    make(chan time.Time, 1),
		done:     make(chan struct{}),
		outbox:   make(chan []byte, cfg.WriteBufferSize),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     c.cfg.Protocols,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Closed while the handshake was in flight.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Server pings are answered under writeMu so they never interleave with data frames.
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(string) error {
		select {
		case c.pongs <- time.Now():
		default:
		}
		return nil
	})

	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL, "subprotocol", conn.Subprotocol())

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	return c.shutdown(nil)
}

// Abort reports err to the owner and closes the connection without a close handshake.
func (c *client) Abort(err error) error {
	return c.shutdown(err)
}

func (c *client) shutdown(reason error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Report the reason before done is closed so readers observe it.
	if reason != nil {
		select {
		case c.errors <- reason:
		default:
		}
	}

	close(c.done)

	if conn == nil {
		return nil
	}

	if reason == nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
	}
	return conn.Close()
}

// Send queues raw bytes for the write loop.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	select {
	case c.outbox <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// Pongs returns the pong notification channel.
func (c *client) Pongs() <-chan time.Time {
	return c.pongs
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames from the WebSocket and sends them to the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				c.fail(err)
				return
			}
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// writeLoop drains the outbox onto the WebSocket.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(c.cfg.FrameType, data)
			c.writeMu.Unlock()

			if err != nil {
				select {
				case <-c.done:
				default:
					c.fail(err)
				}
				return
			}
		}
	}
}

// fail publishes the first transport error.
func (c *client) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}
}
