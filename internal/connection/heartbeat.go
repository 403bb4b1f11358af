package connection

import "time"

// startHeartbeatLocked arms the first probe for sess. Caller holds m.mu.
func (m *manager) startHeartbeatLocked(sess *session) {
	if !m.cfg.Heartbeat || m.cfg.HeartbeatInterval <= 0 {
		return
	}
	epoch := sess.epoch
	sess.probeTimer = time.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.probe(epoch)
	})
}

// stopHeartbeatLocked cancels the probe and any outstanding pong deadline.
func (m *manager) stopHeartbeatLocked(sess *session) {
	stopTimer(sess.probeTimer)
	stopTimer(sess.pongTimer)
	sess.probeTimer = nil
	sess.pongTimer = nil
}

// probe sends one heartbeat probe and arms the pong deadline. An outstanding
// deadline is left alone so late pongs cannot push it back.
func (m *manager) probe(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.state != StateConnected {
		return
	}
	sess := m.sess

	data, err := m.codec.Encode(m.cfg.HeartbeatProbeType, m.cfg.HeartbeatProbePayload)
	if err != nil {
		m.logger.Error("failed to encode heartbeat probe", "error", err)
	} else if err := sess.client.Send(data); err != nil {
		m.trace("heartbeat probe not sent", "error", err)
	} else {
		m.sent.Add(1)
		m.trace("heartbeat probe sent")
	}

	if sess.pongTimer == nil {
		sess.pongTimer = time.AfterFunc(m.cfg.HeartbeatTimeout, func() {
			m.heartbeatExpired(epoch)
		})
	}
	sess.probeTimer = time.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.probe(epoch)
	})
}

// pong records liveness and clears the pending deadline. Both application
// pong messages and protocol-level pong frames land here.
func (m *manager) pong(epoch uint64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.state != StateConnected {
		return
	}
	if at.IsZero() {
		at = m.now()
	}
	m.lastPongAt = at

	sess := m.sess
	stopTimer(sess.pongTimer)
	sess.pongTimer = nil
	m.trace("pong received")
}

// heartbeatExpired forces the socket closed. The resulting error flows through
// the normal drop path, so it consumes reconnection attempts like any other drop.
func (m *manager) heartbeatExpired(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	sess.pongTimer = nil
	m.mu.Unlock()

	m.logger.Warn("heartbeat timeout, closing connection",
		"session_id", sess.id,
		"timeout", m.cfg.HeartbeatTimeout,
	)
	sess.client.Abort(ErrHeartbeatTimeout)
}
