package main

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/rtlink/internal/connection"
)

type echoOptions struct {
	Protocols []string
	DropAfter int  // Kill the TCP connection after this many frames; 0 never
	Silent    bool // Never answer ping envelopes
}

// frame is one outbound WebSocket message.
type frame struct {
	kind int
	data []byte
}

// peer is one connected client. The read goroutine answers frames and the
// write goroutine drains send back to the socket.
type peer struct {
	id     string
	conn   *websocket.Conn
	send   chan frame
	logger *slog.Logger
}

type echoHandler struct {
	opts     echoOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
	peers    atomic.Int64
}

func newEchoHandler(opts echoOptions, logger *slog.Logger) *echoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &echoHandler{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: opts.Protocols,
		},
		logger: logger,
	}
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan frame, 16),
	}
	p.logger = h.logger.With("peer_id", p.id)

	n := h.peers.Add(1)
	p.logger.Info("peer connected",
		"remote", r.RemoteAddr,
		"subprotocol", conn.Subprotocol(),
		"user_agent", r.UserAgent(),
		"peers", n,
	)

	go p.write()
	go func() {
		h.read(p)
		left := h.peers.Add(-1)
		p.logger.Info("peer disconnected", "peers", left)
	}()
}

// read answers every frame until the socket fails or the drop limit is hit.
func (h *echoHandler) read(p *peer) {
	defer close(p.send)

	frames := 0
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		frames++

		if reply, ok := h.answer(kind, data); ok {
			p.send <- reply
		}

		if h.opts.DropAfter > 0 && frames >= h.opts.DropAfter {
			p.logger.Info("dropping peer", "frames", frames)
			// No close frame: the client sees an abnormal closure.
			p.conn.UnderlyingConn().Close()
			return
		}
	}
}

// answer decides the reply to one inbound frame.
func (h *echoHandler) answer(kind int, data []byte) (frame, bool) {
	codec := codecFor(kind)
	msg, err := codec.Decode(data)
	if err != nil {
		return frame{kind: kind, data: data}, true
	}
	if msg.Type != "ping" {
		return frame{kind: kind, data: data}, true
	}
	if h.opts.Silent {
		return frame{}, false
	}

	var payload any
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	pong, err := codec.Encode("pong", payload)
	if err != nil {
		h.logger.Warn("encode pong", "error", err)
		return frame{}, false
	}
	return frame{kind: kind, data: pong}, true
}

func (p *peer) write() {
	defer p.conn.Close()

	for f := range p.send {
		if err := p.conn.WriteMessage(f.kind, f.data); err != nil {
			p.logger.Debug("write failed", "error", err)
			p.conn.Close()
			for range p.send {
			}
			return
		}
	}
	p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// codecFor picks the envelope codec that matches a frame type.
func codecFor(kind int) connection.Codec {
	if kind == websocket.BinaryMessage {
		return connection.ProtoCodec{}
	}
	return connection.JSONCodec{}
}
