package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager owns one logical connection and its lifecycle.
type Manager interface {
	// Connect starts a connection attempt (if needed) and waits until it settles
	// or ctx is done. Cancelling ctx abandons the wait, not the attempt.
	Connect(ctx context.Context) error

	// ConnectAsync starts a connection attempt (if needed) without blocking.
	// The channel receives exactly one result.
	ConnectAsync() <-chan error

	// Disconnect tears the connection down and disables reconnection until the
	// next Connect. It is idempotent.
	Disconnect()

	// Send transmits a typed message, or queues it while not connected.
	// The error is non-nil only when the payload cannot be encoded or the
	// queue rejects the message.
	Send(msgType string, payload any) (SendResult, error)

	// SendRaw writes bytes as-is. It only succeeds while connected.
	SendRaw(data []byte) bool

	// On subscribes h to msgType. WildcardType receives every message.
	On(msgType string, h Handler) Unsubscribe

	// OnRaw subscribes to frames that could not be decoded.
	OnRaw(h RawHandler) Unsubscribe

	// OnConnect runs h each time a session reaches CONNECTED.
	OnConnect(h func()) Unsubscribe

	// OnDisconnect runs h when a CONNECTED session ends, planned or not.
	OnDisconnect(h func(DisconnectEvent)) Unsubscribe

	// OnError receives transport, timeout, handler and retries-exhausted errors.
	OnError(h func(error)) Unsubscribe

	// State returns the current connection state.
	State() State

	// IsConnected reports whether the state is CONNECTED.
	IsConnected() bool

	// Stats returns current connection statistics.
	Stats() Stats
}

// Option customizes a manager.
type Option func(*manager)

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) {
		m.newClient = f
	}
}

// WithCodec sets the frame codec (JSONCodec by default).
func WithCodec(c Codec) Option {
	return func(m *manager) {
		m.codec = c
	}
}

// WithClock sets the time source used for queue ages and pong timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *manager) {
		m.now = now
	}
}

// session is the per-attempt state: one transport socket and its timers.
type session struct {
	id     string
	epoch  uint64
	client Client
	cancel context.CancelFunc // Aborts the in-flight dial
	quit   chan struct{}      // Closed on teardown; stops the watch loop

	connectTimer *time.Timer
	probeTimer   *time.Timer
	pongTimer    *time.Timer
	flushTimer   *time.Timer
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	codec     Codec
	newClient ClientFactory
	now       func() time.Time
	subs      *subscriptions

	mu             sync.Mutex
	state          State
	epoch          uint64 // Bumped whenever a session starts or is torn down
	sess           *session
	noReconnect    bool
	sched          *reconnectScheduler
	reconnectTimer *time.Timer
	waiters        []chan error
	queue          *outboundQueue
	lastPongAt     time.Time
	lastSessionID  string

	sent         atomic.Int64
	received     atomic.Int64
	decodeErrors atomic.Int64
}

// NewManager creates a new Connection Manager in the DISCONNECTED state.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = normalize(cfg)
	logger = logger.With("url", cfg.URL)

	m := &manager{
		cfg:       cfg,
		logger:    logger,
		codec:     JSONCodec{},
		newClient: NewClient,
		now:       time.Now,
		subs:      newSubscriptions(logger),
		state:     StateDisconnected,
		sched:     newReconnectScheduler(cfg),
		queue:     newOutboundQueue(cfg.MaxQueueSize, cfg.MaxQueueAge, cfg.EvictionPolicy),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalize fills zero values that would make the state machine misbehave.
func normalize(cfg ManagerConfig) ManagerConfig {
	def := DefaultManagerConfig()
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoff == "" {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if cfg.HeartbeatProbeType == "" {
		cfg.HeartbeatProbeType = def.HeartbeatProbeType
	}
	if cfg.HeartbeatPongType == "" {
		cfg.HeartbeatPongType = def.HeartbeatPongType
	}
	if cfg.Heartbeat && cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = def.EvictionPolicy
	}
	return cfg
}

// Connect waits for the connection attempt to settle.
func (m *manager) Connect(ctx context.Context) error {
	select {
	case err := <-m.ConnectAsync():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectAsync starts a connection attempt unless one is already running.
func (m *manager) ConnectAsync() <-chan error {
	result := make(chan error, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnected:
		result <- nil
		return result
	case StateConnecting:
		// Join the in-flight attempt; never open a second socket.
		m.waiters = append(m.waiters, result)
		return result
	case StateReconnecting:
		// Skip the remaining delay but stay in the current episode.
		stopTimer(m.reconnectTimer)
		m.reconnectTimer = nil
	default:
		m.sched.reset()
	}

	m.noReconnect = false
	m.waiters = append(m.waiters, result)
	m.beginConnectLocked()
	return result
}

// beginConnectLocked opens a fresh transport socket. Caller holds m.mu.
func (m *manager) beginConnectLocked() {
	m.epoch++
	sess := &session{
		id:    uuid.NewString(),
		epoch: m.epoch,
		quit:  make(chan struct{}),
	}
	sess.client = m.newClient(
		m.cfg.clientConfig(m.codec.FrameType()),
		m.logger.With("session_id", sess.id),
	)

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	m.sess = sess
	m.lastSessionID = sess.id
	m.setState(StateConnecting)

	if m.cfg.ConnectionTimeout > 0 {
		epoch := sess.epoch
		sess.connectTimer = time.AfterFunc(m.cfg.ConnectionTimeout, func() {
			m.connectFailed(epoch, ErrConnectTimeout)
		})
	}

	go m.dial(ctx, sess)
}

// dial runs the handshake outside the lock.
func (m *manager) dial(ctx context.Context, sess *session) {
	if err := sess.client.Connect(ctx); err != nil {
		m.connectFailed(sess.epoch, err)
		return
	}
	m.opened(sess)
}

// opened handles a completed handshake.
func (m *manager) opened(sess *session) {
	m.mu.Lock()
	if sess.epoch != m.epoch || m.state != StateConnecting {
		// Attempt was abandoned (timeout or Disconnect) while dialing.
		m.mu.Unlock()
		sess.client.Close()
		return
	}

	stopTimer(sess.connectTimer)
	sess.connectTimer = nil
	m.setState(StateConnected)
	m.sched.reset()
	m.startHeartbeatLocked(sess)
	m.flushLocked(sess)
	waiters := m.takeWaitersLocked()
	m.mu.Unlock()

	m.logger.Info("connected", "session_id", sess.id)

	m.subs.emitConnect()
	for _, w := range waiters {
		w <- nil
	}

	go m.watch(sess)
}

// connectFailed handles a handshake error or connection timeout.
func (m *manager) connectFailed(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	sess := m.teardownLocked()
	m.setState(StateDisconnected)
	waiters := m.takeWaitersLocked()
	next := m.epoch
	m.mu.Unlock()

	if sess != nil {
		sess.client.Close()
	}

	err = fmt.Errorf("connect: %w", err)
	m.logger.Warn("connection attempt failed", "error", err)

	m.subs.emitError(err)
	for _, w := range waiters {
		w <- err
	}
	m.scheduleReconnect(next)
}

// watch consumes socket events for one session until it is torn down.
func (m *manager) watch(sess *session) {
	for {
		// Quit wins over frames still buffered on the socket.
		select {
		case <-sess.quit:
			return
		default:
		}

		select {
		case <-sess.quit:
			return

		case err := <-sess.client.Errors():
			m.dropped(sess.epoch, err)
			return

		case at := <-sess.client.Pongs():
			m.pong(sess.epoch, at)

		case msg := <-sess.client.Messages():
			m.receive(sess, msg)
		}
	}
}

// receive decodes one inbound frame and dispatches it.
func (m *manager) receive(sess *session, tm TimestampedMessage) {
	msg, err := m.codec.Decode(tm.Data)
	if !m.current(sess) {
		m.trace("discarding frame from closed session", "session_id", sess.id, "bytes", len(tm.Data))
		return
	}
	m.received.Add(1)

	if err != nil {
		m.decodeErrors.Add(1)
		m.trace("undecodable frame", "bytes", len(tm.Data), "error", err)
		m.subs.emitRaw(RawFrame{Data: tm.Data, Err: err, ReceivedAt: tm.ReceivedAt})
		return
	}
	msg.ReceivedAt = tm.ReceivedAt

	m.trace("received", "type", msg.Type, "bytes", len(tm.Data))

	if msg.Type == m.cfg.HeartbeatPongType {
		m.pong(sess.epoch, tm.ReceivedAt)
		return
	}
	m.subs.dispatch(msg)
}

// current reports whether sess is still the live session.
func (m *manager) current(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.epoch == m.epoch
}

// dropped handles an unplanned close of the transport socket.
func (m *manager) dropped(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || (m.state != StateConnected && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}
	wasConnected := m.state == StateConnected
	sess := m.teardownLocked()
	m.setState(StateDisconnected)
	willReconnect := m.cfg.Reconnect && !m.noReconnect
	waiters := m.takeWaitersLocked()
	next := m.epoch
	m.mu.Unlock()

	sess.client.Close()

	m.logger.Warn("connection lost",
		"session_id", sess.id,
		"error", err,
		"will_reconnect", willReconnect,
	)

	for _, w := range waiters {
		w <- err
	}
	m.subs.emitError(err)
	if wasConnected {
		m.subs.emitDisconnect(DisconnectEvent{
			Err:           err,
			WillReconnect: willReconnect,
			SessionID:     sess.id,
		})
	}
	m.scheduleReconnect(next)
}

// scheduleReconnect arms the next reconnection attempt for the episode that
// began at epoch. It is a no-op if anything happened since.
func (m *manager) scheduleReconnect(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateDisconnected || m.noReconnect || !m.cfg.Reconnect {
		m.mu.Unlock()
		return
	}

	delay, ok := m.sched.next()
	if !ok {
		attempts := m.sched.attempts
		m.mu.Unlock()

		m.logger.Error("giving up reconnecting", "attempts", attempts)
		m.subs.emitError(fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempts))
		return
	}

	attempt := m.sched.attempts
	m.setState(StateReconnecting)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.reconnectFired(epoch)
	})
	m.mu.Unlock()

	m.logger.Info("scheduling reconnection", "attempt", attempt, "delay", delay)
}

func (m *manager) reconnectFired(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	m.trace("attempting reconnection", "attempt", m.sched.attempts)
	m.beginConnectLocked()
}

// Disconnect tears down the connection without scheduling a reconnection.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.noReconnect = true
	stopTimer(m.reconnectTimer)
	m.reconnectTimer = nil

	prev := m.state
	if prev == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.setState(StateDisconnecting)
	sess := m.teardownLocked()
	waiters := m.takeWaitersLocked()
	torn := m.epoch
	m.mu.Unlock()

	if sess != nil {
		sess.client.Close()
	}

	// A Connect during the close has already started a newer session.
	m.mu.Lock()
	superseded := m.epoch != torn
	if m.state == StateDisconnecting {
		m.setState(StateDisconnected)
	}
	m.mu.Unlock()

	m.logger.Info("disconnected", "previous_state", prev)

	for _, w := range waiters {
		w <- ErrDisconnected
	}
	if prev == StateConnected && sess != nil && !superseded {
		m.subs.emitDisconnect(DisconnectEvent{Planned: true, SessionID: sess.id})
	}
}

// teardownLocked cancels the current session's timers and dial, stops its
// watch loop and invalidates its epoch. Caller holds m.mu.
func (m *manager) teardownLocked() *session {
	sess := m.sess
	if sess == nil {
		return nil
	}
	m.stopHeartbeatLocked(sess)
	stopTimer(sess.connectTimer)
	stopTimer(sess.flushTimer)
	sess.connectTimer = nil
	sess.flushTimer = nil
	sess.cancel()
	close(sess.quit)

	m.sess = nil
	m.epoch++
	return sess
}

func (m *manager) takeWaitersLocked() []chan error {
	w := m.waiters
	m.waiters = nil
	return w
}

// Send transmits or queues a typed message.
func (m *manager) Send(msgType string, payload any) (SendResult, error) {
	env, err := m.envelope(msgType, payload)
	if err != nil {
		return SendRejected, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Anything already queued goes first.
	if m.state == StateConnected && m.queue.Len() == 0 {
		err := m.transmitLocked(m.sess, env)
		if err == nil {
			return SendSent, nil
		}
		m.trace("send deferred", "type", msgType, "error", err)
	}

	result := m.queue.push(env)
	if result == SendRejected {
		m.trace("send rejected", "type", msgType, "queued", m.queue.Len())
		return result, ErrQueueFull
	}
	m.trace("queued", "type", msgType, "envelope_id", env.ID, "result", result, "queued", m.queue.Len())

	if m.state == StateConnected {
		m.armFlushRetryLocked(m.sess)
	}
	return result, nil
}

// SendRaw writes bytes directly to the socket. Raw frames are never queued.
func (m *manager) SendRaw(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return false
	}
	if err := m.sess.client.Send(data); err != nil {
		m.trace("raw send failed", "bytes", len(data), "error", err)
		return false
	}
	m.sent.Add(1)
	m.trace("sent raw", "bytes", len(data))
	return true
}

// envelope encodes a message for the queue.
func (m *manager) envelope(msgType string, payload any) (Envelope, error) {
	data, err := m.codec.Encode(msgType, payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    payload,
		Data:       data,
		EnqueuedAt: m.now(),
	}, nil
}

// transmitLocked hands an encoded envelope to the socket. Caller holds m.mu.
func (m *manager) transmitLocked(sess *session, env Envelope) error {
	if err := sess.client.Send(env.Data); err != nil {
		return err
	}
	m.sent.Add(1)
	m.trace("sent", "type", env.Type, "envelope_id", env.ID, "bytes", len(env.Data))
	return nil
}

// flushLocked drains the outbound queue onto the socket. Caller holds m.mu.
func (m *manager) flushLocked(sess *session) {
	if m.queue.Len() == 0 {
		return
	}
	expiredBefore := m.queue.expired
	sent, err := m.queue.flush(m.now(), func(env Envelope) error {
		return m.transmitLocked(sess, env)
	})
	m.trace("flushed queue",
		"sent", sent,
		"expired", m.queue.expired-expiredBefore,
		"remaining", m.queue.Len(),
	)

	if err != nil {
		if !errors.Is(err, ErrBackpressure) {
			m.logger.Warn("queue flush interrupted", "error", err, "remaining", m.queue.Len())
		}
		m.armFlushRetryLocked(sess)
	}
}

// armFlushRetryLocked schedules another flush while messages remain queued.
func (m *manager) armFlushRetryLocked(sess *session) {
	if sess == nil || sess.flushTimer != nil || m.cfg.FlushRetryInterval <= 0 {
		return
	}
	epoch := sess.epoch
	sess.flushTimer = time.AfterFunc(m.cfg.FlushRetryInterval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if epoch != m.epoch || m.state != StateConnected {
			return
		}
		m.sess.flushTimer = nil
		m.flushLocked(m.sess)
	})
}

// On subscribes a handler to a message type.
func (m *manager) On(msgType string, h Handler) Unsubscribe {
	return m.subs.on(msgType, h)
}

func (m *manager) OnRaw(h RawHandler) Unsubscribe {
	return m.subs.onRaw(h)
}

func (m *manager) OnConnect(h func()) Unsubscribe {
	return m.subs.onConnect(h)
}

func (m *manager) OnDisconnect(h func(DisconnectEvent)) Unsubscribe {
	return m.subs.onDisconnect(h)
}

func (m *manager) OnError(h func(error)) Unsubscribe {
	return m.subs.onError(h)
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true while CONNECTED.
func (m *manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns current statistics.
func (m *manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		State:              m.state,
		ReconnectAttempts:  m.sched.attempts,
		LastPongAt:         m.lastPongAt,
		QueuedMessageCount: m.queue.Len(),
		SessionID:          m.lastSessionID,
		MessagesSent:       m.sent.Load(),
		MessagesReceived:   m.received.Load(),
		DecodeErrors:       m.decodeErrors.Load(),
		QueueEvicted:       m.queue.evicted,
		QueueExpired:       m.queue.expired,
	}
}

// setState records a transition. Caller holds m.mu.
func (m *manager) setState(s State) {
	if m.state == s {
		return
	}
	m.trace("state transition", "from", m.state, "to", s)
	m.state = s
}

// trace logs only when debug tracing is enabled.
func (m *manager) trace(msg string, args ...any) {
	if m.cfg.Debug {
		m.logger.Debug(msg, args...)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
