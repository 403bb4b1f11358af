package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval    = 1 * time.Second
	DefaultReconnectAttempts    = 10
	DefaultReconnectBackoff     = "exponential"
	DefaultMaxReconnectInterval = 30 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultMaxQueueSize         = 100
	DefaultMaxQueueAge          = 60 * time.Second
	DefaultEvictionPolicy       = "drop-oldest"
	DefaultFlushRetryInterval   = 50 * time.Millisecond
	DefaultCodec                = "json"
	DefaultWriteTimeout         = 5 * time.Second
	DefaultWriteBufferSize      = 256
	DefaultReadBufferSize       = 1000
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultRecorderTable        = "events"
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultStatusPort           = 9090
)

func (c *Config) applyDefaults() {
	applyConnectionDefaults(&c.Connection)

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Recorder defaults
	if c.Recorder.Table == "" {
		c.Recorder.Table = DefaultRecorderTable
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	applyDBDefaults(&c.Database)

	// Status defaults
	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}
}

func applyConnectionDefaults(c *ConnectionConfig) {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectBackoff == "" {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxQueueAge == 0 {
		c.MaxQueueAge = DefaultMaxQueueAge
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = DefaultEvictionPolicy
	}
	if c.FlushRetryInterval == 0 {
		c.FlushRetryInterval = DefaultFlushRetryInterval
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
