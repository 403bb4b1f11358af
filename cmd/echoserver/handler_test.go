package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/rtlink/internal/connection"
)

func startEcho(t *testing.T, opts echoOptions) (*httptest.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := httptest.NewServer(newEchoHandler(opts, logger))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return kind, data
}

func TestEcho_PingPong(t *testing.T) {
	tests := []struct {
		name  string
		codec connection.Codec
	}{
		{name: "json", codec: connection.JSONCodec{}},
		{name: "proto", codec: connection.ProtoCodec{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startEcho(t, echoOptions{})
			conn := dial(t, url)

			ping, err := tt.codec.Encode("ping", map[string]any{"seq": 7})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if err := conn.WriteMessage(tt.codec.FrameType(), ping); err != nil {
				t.Fatalf("write: %v", err)
			}

			kind, data := readFrame(t, conn)
			if kind != tt.codec.FrameType() {
				t.Errorf("frame type = %d, want %d", kind, tt.codec.FrameType())
			}
			msg, err := tt.codec.Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type != "pong" {
				t.Errorf("type = %q, want pong", msg.Type)
			}
			var payload struct{ Seq int }
			if err := msg.Decode(&payload); err != nil || payload.Seq != 7 {
				t.Errorf("payload = %+v (%v), want seq 7", payload, err)
			}
		})
	}
}

func TestEcho_EchoesOtherMessages(t *testing.T) {
	_, url := startEcho(t, echoOptions{})
	conn := dial(t, url)

	frames := []string{`{"type":"order","payload":{"qty":3}}`, `plain text`}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, data := readFrame(t, conn)
		if string(data) != f {
			t.Errorf("echo = %q, want %q", data, f)
		}
	}
}

func TestEcho_Silent(t *testing.T) {
	_, url := startEcho(t, echoOptions{Silent: true})
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"marker"}`))

	// The first reply must be the echoed marker: the ping went unanswered.
	_, data := readFrame(t, conn)
	if !strings.Contains(string(data), "marker") {
		t.Errorf("first reply = %q, want the echoed marker", data)
	}
}

func TestEcho_Subprotocol(t *testing.T) {
	_, url := startEcho(t, echoOptions{Protocols: []string{"rtlink.v1"}})

	dialer := websocket.Dialer{Subprotocols: []string{"rtlink.v1"}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if conn.Subprotocol() != "rtlink.v1" {
		t.Errorf("subprotocol = %q, want rtlink.v1", conn.Subprotocol())
	}
}

func TestEcho_DropAfter(t *testing.T) {
	_, url := startEcho(t, echoOptions{DropAfter: 2})
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"a"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"b"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("expected abnormal closure, got %v", err)
			}
			return
		}
	}
}

func TestEcho_ManagerReconnectsAfterDrop(t *testing.T) {
	_, url := startEcho(t, echoOptions{DropAfter: 1})

	cfg := connection.DefaultManagerConfig()
	cfg.URL = url
	cfg.Heartbeat = false
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectInterval = 50 * time.Millisecond
	m := connection.NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer m.Disconnect()

	connects := make(chan struct{}, 4)
	m.OnConnect(func() { connects <- struct{}{} })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-connects

	// One frame trips the drop limit.
	if _, err := m.Send("order", map[string]int{"qty": 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not reconnect after the server dropped it")
	}
	if st := m.Stats(); st.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d after a successful reconnect, want 0", st.ReconnectAttempts)
	}
}

func TestEcho_HeartbeatAgainstServer(t *testing.T) {
	_, url := startEcho(t, echoOptions{})

	cfg := connection.DefaultManagerConfig()
	cfg.URL = url
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	m := connection.NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().LastPongAt.IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("no pong recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsConnected() {
		t.Error("manager should stay connected while pongs arrive")
	}
}
