package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrBackpressure     = errors.New("write buffer full")
	ErrConnectTimeout   = errors.New("connection timeout")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout (no pong)")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrQueueFull        = errors.New("outbound queue full")
	ErrDisconnected     = errors.New("disconnected by caller")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrDecode           = errors.New("decode frame")
)

// State is the connection state. Exactly one value is current at any time.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// SendResult reports what Send did with a message.
type SendResult int

const (
	SendSent          SendResult = iota // written to the socket
	SendQueued                          // appended to the outbound queue
	SendQueuedEvicted                   // appended after evicting the oldest entry
	SendRejected                        // queue full under the reject-new policy
)

func (r SendResult) String() string {
	switch r {
	case SendSent:
		return "sent"
	case SendQueued:
		return "queued"
	case SendQueuedEvicted:
		return "queued-evicted"
	case SendRejected:
		return "rejected"
	}
	return "unknown"
}

// BackoffPolicy selects how reconnection delays grow.
type BackoffPolicy string

const (
	BackoffExponential BackoffPolicy = "exponential"
	BackoffLinear      BackoffPolicy = "linear"
)

// EvictionPolicy selects what happens when the outbound queue is full.
type EvictionPolicy string

const (
	EvictDropOldest EvictionPolicy = "drop-oldest"
	EvictRejectNew  EvictionPolicy = "reject-new"
)

// WildcardType subscribes a handler to every decoded message.
const WildcardType = "*"

// Envelope is an outbound message tracked by the queue.
type Envelope struct {
	ID         string
	Type       string
	Payload    any
	Data       []byte // Encoded frame
	EnqueuedAt time.Time
}

// Message is a decoded inbound message.
type Message struct {
	Type       string
	Payload    json.RawMessage
	Raw        []byte    // Frame bytes as received
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// RawFrame is an inbound frame that could not be decoded.
type RawFrame struct {
	Data       []byte
	Err        error
	ReceivedAt time.Time
}

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Handler receives decoded messages of one type.
type Handler func(Message) error

// RawHandler receives frames that failed to decode.
type RawHandler func(RawFrame)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// DisconnectEvent describes why the connection left CONNECTED.
type DisconnectEvent struct {
	Err           error // nil for a planned disconnect
	Planned       bool  // Disconnect() was called
	WillReconnect bool  // a reconnection attempt will be scheduled
	SessionID     string
}

// HandlerError wraps an error returned (or panic raised) by a subscriber.
type HandlerError struct {
	Type string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %q: %v", e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	State              State
	ReconnectAttempts  int
	LastPongAt         time.Time
	QueuedMessageCount int
	SessionID          string
	MessagesSent       int64
	MessagesReceived   int64
	DecodeErrors       int64
	QueueEvicted       int64
	QueueExpired       int64
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL             string        // WebSocket URL (e.g., wss://example.com/realtime)
	Protocols       []string      // Sec-WebSocket-Protocol values
	Header          http.Header   // Extra handshake headers
	FrameType       int           // websocket.TextMessage or websocket.BinaryMessage
	WriteTimeout    time.Duration // Write deadline for each frame
	WriteBufferSize int           // Frames waiting for the write loop before Send reports back-pressure
	BufferSize      int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		FrameType:       websocket.TextMessage,
		WriteTimeout:    5 * time.Second,
		WriteBufferSize: 256,
		BufferSize:      1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL       string
	Protocols []string
	Header    http.Header

	Reconnect            bool
	ReconnectInterval    time.Duration // Base delay
	ReconnectAttempts    int           // Max attempts per episode; <= 0 means unlimited
	ReconnectBackoff     BackoffPolicy
	MaxReconnectInterval time.Duration

	Heartbeat             bool
	HeartbeatInterval     time.Duration
	HeartbeatTimeout      time.Duration
	HeartbeatProbeType    string
	HeartbeatPongType     string
	HeartbeatProbePayload any

	ConnectionTimeout time.Duration

	MaxQueueSize       int
	MaxQueueAge        time.Duration // 0 disables age eviction
	EvictionPolicy     EvictionPolicy
	FlushRetryInterval time.Duration

	WriteTimeout    time.Duration
	WriteBufferSize int
	ReadBufferSize  int

	Debug bool // Trace every transition, send and receive
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Reconnect:            true,
		ReconnectInterval:    1 * time.Second,
		ReconnectAttempts:    10,
		ReconnectBackoff:     BackoffExponential,
		MaxReconnectInterval: 30 * time.Second,
		Heartbeat:            true,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		HeartbeatProbeType:   "ping",
		HeartbeatPongType:    "pong",
		ConnectionTimeout:    10 * time.Second,
		MaxQueueSize:         100,
		MaxQueueAge:          60 * time.Second,
		EvictionPolicy:       EvictDropOldest,
		FlushRetryInterval:   50 * time.Millisecond,
		WriteTimeout:         5 * time.Second,
		WriteBufferSize:      256,
		ReadBufferSize:       1000,
	}
}

// clientConfig derives the per-socket client configuration.
func (c ManagerConfig) clientConfig(frameType int) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = c.URL
	cfg.Protocols = c.Protocols
	cfg.Header = c.Header
	cfg.FrameType = frameType
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.WriteBufferSize > 0 {
		cfg.WriteBufferSize = c.WriteBufferSize
	}
	if c.ReadBufferSize > 0 {
		cfg.BufferSize = c.ReadBufferSize
	}
	return cfg
}
