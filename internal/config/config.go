package config

import "time"

// Config is the root configuration for an rtclient instance.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Database   DBConfig         `yaml:"database"`
	Status     StatusConfig     `yaml:"status"`
}

// ConnectionConfig holds Connection Manager settings.
type ConnectionConfig struct {
	URL       string            `yaml:"url"`
	Protocols []string          `yaml:"protocols"`
	Headers   map[string]string `yaml:"headers"`

	Reconnect            *bool         `yaml:"reconnect"` // nil = enabled
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	ReconnectAttempts    int           `yaml:"reconnect_attempts"` // 0 = default, -1 = unlimited
	ReconnectBackoff     string        `yaml:"reconnect_backoff"`  // linear | exponential
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`

	Heartbeat             *bool         `yaml:"heartbeat"` // nil = enabled
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatProbePayload any           `yaml:"heartbeat_probe_payload"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	MaxQueueSize       int           `yaml:"max_queue_size"`
	MaxQueueAge        time.Duration `yaml:"max_queue_age"`
	EvictionPolicy     string        `yaml:"eviction_policy"` // drop-oldest | reject-new
	FlushRetryInterval time.Duration `yaml:"flush_retry_interval"`

	Codec           string        `yaml:"codec"` // json | proto
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`

	Debug bool `yaml:"debug"`
}

// ReconnectEnabled reports whether automatic reconnection is on.
func (c ConnectionConfig) ReconnectEnabled() bool {
	return c.Reconnect == nil || *c.Reconnect
}

// HeartbeatEnabled reports whether the heartbeat monitor is on.
func (c ConnectionConfig) HeartbeatEnabled() bool {
	return c.Heartbeat == nil || *c.Heartbeat
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// RecorderConfig holds event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection. Only used when the recorder is enabled.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the /healthz and /stats HTTP server settings.
type StatusConfig struct {
	Enabled *bool `yaml:"enabled"` // nil = enabled
	Port    int   `yaml:"port"`
}

// ServerEnabled reports whether the status server should run.
func (s StatusConfig) ServerEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
