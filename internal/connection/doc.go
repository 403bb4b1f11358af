// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one WebSocket (the transport socket) per logical target
//   - Drives the CONNECTING / CONNECTED / DISCONNECTING / DISCONNECTED / RECONNECTING state machine
//   - Probes liveness with an application-level ping/pong heartbeat
//   - Reconnects after unplanned drops with linear or exponential backoff
//   - Buffers outbound messages while disconnected (bounded size, bounded age)
//   - Routes decoded inbound messages to typed subscribers
//
// All state transitions happen under a single mutex. Timers and socket events carry the
// epoch they were created under and are ignored once the epoch has moved on.
package connection
