package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/recorder"
)

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q", cfg.Format)
	}
}

// managerConfig maps the YAML connection section onto the manager's config
// and picks the codec it names.
func managerConfig(c config.ConnectionConfig) (connection.ManagerConfig, connection.Codec, error) {
	codec, err := connection.NewCodec(c.Codec)
	if err != nil {
		return connection.ManagerConfig{}, nil, err
	}

	mc := connection.DefaultManagerConfig()
	mc.URL = c.URL
	mc.Protocols = c.Protocols
	if len(c.Headers) > 0 {
		mc.Header = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			mc.Header.Set(k, v)
		}
	}

	mc.Reconnect = c.ReconnectEnabled()
	mc.ReconnectInterval = c.ReconnectInterval
	mc.ReconnectAttempts = c.ReconnectAttempts
	if c.ReconnectAttempts < 0 {
		mc.ReconnectAttempts = 0
	}
	mc.ReconnectBackoff = connection.BackoffPolicy(c.ReconnectBackoff)
	mc.MaxReconnectInterval = c.MaxReconnectInterval

	mc.Heartbeat = c.HeartbeatEnabled()
	mc.HeartbeatInterval = c.HeartbeatInterval
	mc.HeartbeatTimeout = c.HeartbeatTimeout
	mc.HeartbeatProbePayload = c.HeartbeatProbePayload

	mc.ConnectionTimeout = c.ConnectionTimeout
	mc.MaxQueueSize = c.MaxQueueSize
	mc.MaxQueueAge = c.MaxQueueAge
	mc.EvictionPolicy = connection.EvictionPolicy(c.EvictionPolicy)
	mc.FlushRetryInterval = c.FlushRetryInterval

	mc.WriteTimeout = c.WriteTimeout
	mc.WriteBufferSize = c.WriteBufferSize
	mc.ReadBufferSize = c.ReadBufferSize
	mc.Debug = c.Debug

	return mc, codec, nil
}

func recorderConfig(c config.RecorderConfig) recorder.Config {
	return recorder.Config{
		Table:         c.Table,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		BufferSize:    c.BufferSize,
	}
}

// logLifecycle reports connection lifecycle events. It returns a func that
// removes every callback it registered.
func logLifecycle(m connection.Manager, logger *slog.Logger) connection.Unsubscribe {
	unsubs := []connection.Unsubscribe{
		m.OnConnect(func() {
			logger.Info("session established", "session_id", m.Stats().SessionID)
		}),
		m.OnDisconnect(func(ev connection.DisconnectEvent) {
			if ev.Planned {
				logger.Info("session closed", "session_id", ev.SessionID)
				return
			}
			logger.Warn("session lost",
				"session_id", ev.SessionID,
				"error", ev.Err,
				"will_reconnect", ev.WillReconnect,
			)
		}),
		m.OnError(func(err error) {
			logger.Error("connection error", "error", err)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// printMessages logs every inbound message. With verbose the payload is included.
func printMessages(m connection.Manager, logger *slog.Logger, verbose bool) connection.Unsubscribe {
	unsubMsg := m.On(connection.WildcardType, func(msg connection.Message) error {
		if verbose {
			logger.Info("message",
				"type", msg.Type,
				"received_at", msg.ReceivedAt,
				"payload", string(msg.Payload),
			)
			return nil
		}
		logger.Info("message", "type", msg.Type, "bytes", len(msg.Raw))
		return nil
	})
	unsubRaw := m.OnRaw(func(f connection.RawFrame) {
		logger.Warn("undecodable frame", "bytes", len(f.Data), "error", f.Err)
	})
	return func() {
		unsubMsg()
		unsubRaw()
	}
}
