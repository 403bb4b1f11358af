package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Connection.validate("connection"); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Recorder.Enabled {
		if !tableName.MatchString(c.Recorder.Table) {
			return fmt.Errorf("recorder.table %q is not a valid table name", c.Recorder.Table)
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Status.Port < 1 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 1 and 65535, got %d", c.Status.Port)
	}

	return nil
}

func (c *ConnectionConfig) validate(prefix string) error {
	if c.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, u.Scheme)
	}

	switch c.ReconnectBackoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("%s.reconnect_backoff must be linear or exponential, got %q", prefix, c.ReconnectBackoff)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("%s.reconnect_interval must be > 0", prefix)
	}
	if c.ReconnectAttempts < -1 {
		return fmt.Errorf("%s.reconnect_attempts must be >= -1", prefix)
	}
	if c.MaxReconnectInterval < c.ReconnectInterval {
		return fmt.Errorf("%s.max_reconnect_interval (%v) cannot be less than reconnect_interval (%v)",
			prefix, c.MaxReconnectInterval, c.ReconnectInterval)
	}

	if c.HeartbeatEnabled() {
		if c.HeartbeatInterval <= 0 {
			return fmt.Errorf("%s.heartbeat_interval must be > 0", prefix)
		}
		if c.HeartbeatTimeout <= 0 {
			return fmt.Errorf("%s.heartbeat_timeout must be > 0", prefix)
		}
	}

	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("%s.connection_timeout must be >= 0", prefix)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("%s.max_queue_size must be >= 1", prefix)
	}
	if c.MaxQueueAge < 0 {
		return fmt.Errorf("%s.max_queue_age must be >= 0", prefix)
	}
	switch c.EvictionPolicy {
	case "drop-oldest", "reject-new":
	default:
		return fmt.Errorf("%s.eviction_policy must be drop-oldest or reject-new, got %q", prefix, c.EvictionPolicy)
	}
	switch c.Codec {
	case "json", "proto", "protobuf":
	default:
		return fmt.Errorf("%s.codec must be json or proto, got %q", prefix, c.Codec)
	}
	if c.WriteBufferSize < 1 {
		return fmt.Errorf("%s.write_buffer_size must be >= 1", prefix)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("%s.read_buffer_size must be >= 1", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
