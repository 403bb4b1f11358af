package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		wantErr  bool
		contains string
		debugOut bool
	}{
		{name: "text info", cfg: config.LoggingConfig{Level: "info", Format: "text"}, contains: "msg=hello"},
		{name: "json debug", cfg: config.LoggingConfig{Level: "debug", Format: "json"}, contains: `"msg":"hello"`, debugOut: true},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud", Format: "text"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.cfg, &buf)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}

			logger.Debug("trace")
			logger.Info("hello")

			out := buf.String()
			if !strings.Contains(out, tt.contains) {
				t.Errorf("output %q does not contain %q", out, tt.contains)
			}
			if got := strings.Contains(out, "trace"); got != tt.debugOut {
				t.Errorf("debug line present = %v, want %v", got, tt.debugOut)
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	off := false
	c := config.ConnectionConfig{
		URL:                  "wss://rt.example.com/ws",
		Protocols:            []string{"rtlink.v1"},
		Headers:              map[string]string{"x-tenant": "acme"},
		Heartbeat:            &off,
		ReconnectInterval:    2 * time.Second,
		ReconnectAttempts:    -1,
		ReconnectBackoff:     "linear",
		MaxReconnectInterval: 20 * time.Second,
		MaxQueueSize:         7,
		MaxQueueAge:          time.Minute,
		EvictionPolicy:       "reject-new",
		Codec:                "proto",
		Debug:                true,
	}

	mc, codec, err := managerConfig(c)
	if err != nil {
		t.Fatalf("managerConfig: %v", err)
	}

	if mc.URL != c.URL {
		t.Errorf("URL = %q", mc.URL)
	}
	if got := mc.Header.Get("X-Tenant"); got != "acme" {
		t.Errorf("Header X-Tenant = %q, want acme", got)
	}
	if !mc.Reconnect {
		t.Error("Reconnect should default to true")
	}
	if mc.Heartbeat {
		t.Error("Heartbeat should be off")
	}
	if mc.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 (unlimited)", mc.ReconnectAttempts)
	}
	if mc.ReconnectBackoff != connection.BackoffLinear {
		t.Errorf("ReconnectBackoff = %q", mc.ReconnectBackoff)
	}
	if mc.EvictionPolicy != connection.EvictRejectNew {
		t.Errorf("EvictionPolicy = %q", mc.EvictionPolicy)
	}
	if mc.MaxQueueSize != 7 || mc.MaxQueueAge != time.Minute {
		t.Errorf("queue = %d/%v", mc.MaxQueueSize, mc.MaxQueueAge)
	}
	if !mc.Debug {
		t.Error("Debug not carried over")
	}
	if _, ok := codec.(connection.ProtoCodec); !ok {
		t.Errorf("codec = %T, want ProtoCodec", codec)
	}
}

func TestManagerConfigUnknownCodec(t *testing.T) {
	if _, _, err := managerConfig(config.ConnectionConfig{URL: "ws://x", Codec: "xml"}); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestRecorderConfig(t *testing.T) {
	rc := recorderConfig(config.RecorderConfig{Table: "rt.events", BatchSize: 10, FlushInterval: time.Second, BufferSize: 100})
	if rc.Table != "rt.events" || rc.BatchSize != 10 || rc.FlushInterval != time.Second || rc.BufferSize != 100 {
		t.Errorf("recorderConfig = %+v", rc)
	}
}
