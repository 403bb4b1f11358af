package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/rickgao/rtlink/internal/connection"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(url string) connection.Manager {
	cfg := connection.DefaultManagerConfig()
	cfg.URL = url
	cfg.Heartbeat = false
	cfg.Reconnect = false
	return connection.NewManager(cfg, discardLogger())
}

func TestStatusHandler_NotConnected(t *testing.T) {
	m := testManager("ws://127.0.0.1:1/unused")
	handler := createStatusHandler(m, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var health healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "unhealthy" || health.State != "DISCONNECTED" {
		t.Errorf("health = %+v", health)
	}
}

func TestStatusHandler_Connected(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := testManager("ws" + strings.TrimPrefix(server.URL, "http"))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	handler := createStatusHandler(m, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
	var health healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health.Status != "healthy" || health.SessionID == "" {
		t.Errorf("health = %+v", health)
	}

	if _, err := m.Send("greet", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}

	var stats map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["state"] != "CONNECTED" {
		t.Errorf("state = %v", stats["state"])
	}
	if stats["messages_sent"] != float64(1) {
		t.Errorf("messages_sent = %v, want 1", stats["messages_sent"])
	}
	if _, ok := stats["recorder"]; ok {
		t.Error("recorder section should be omitted without a recorder")
	}
	if _, ok := stats["last_pong_at"]; ok {
		t.Error("last_pong_at should be omitted before any pong")
	}
}
