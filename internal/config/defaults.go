package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = ":8000"
	DefaultWSURL            = "ws://localhost:8000/ws"
	DefaultVisionURL        = "http://localhost:9100"
	DefaultVisionTimeout    = 30 * time.Second
	DefaultVisionRetries    = 3
	DefaultConfidence       = 0.5
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultReconnectBase    = 1 * time.Second
	DefaultMaxAttempts      = 5
	DefaultQueueCapacity    = 256
	DefaultResponseTimeout  = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 1000
	DefaultSnapshotInterval = 1 * time.Minute
	DefaultMaxMessages      = 50
	DefaultDetectionTTL     = 5 * time.Minute
	DefaultSceneHistory     = 5
	DefaultRecentWindow     = 30 * time.Second
)

func (c *GatewayConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Stream defaults
	if c.Stream.URL == "" {
		c.Stream.URL = DefaultWSURL
	}
	if c.Stream.ReconnectBase == 0 {
		c.Stream.ReconnectBase = DefaultReconnectBase
	}
	if c.Stream.MaxAttempts == 0 {
		c.Stream.MaxAttempts = DefaultMaxAttempts
	}
	if c.Stream.QueueCapacity == 0 {
		c.Stream.QueueCapacity = DefaultQueueCapacity
	}
	if c.Stream.ResponseTimeout == 0 {
		c.Stream.ResponseTimeout = DefaultResponseTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}

	// Vision defaults
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = DefaultVisionURL
	}
	if c.Vision.Timeout == 0 {
		c.Vision.Timeout = DefaultVisionTimeout
	}
	if c.Vision.MaxRetries == 0 {
		c.Vision.MaxRetries = DefaultVisionRetries
	}
	if c.Vision.ConfidenceThreshold == 0 {
		c.Vision.ConfidenceThreshold = DefaultConfidence
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	if c.Archive.SnapshotInterval == 0 {
		c.Archive.SnapshotInterval = DefaultSnapshotInterval
	}

	// Memory defaults
	if c.Memory.MaxMessages == 0 {
		c.Memory.MaxMessages = DefaultMaxMessages
	}
	if c.Memory.DetectionTTL == 0 {
		c.Memory.DetectionTTL = DefaultDetectionTTL
	}
	if c.Memory.SceneHistory == 0 {
		c.Memory.SceneHistory = DefaultSceneHistory
	}
	if c.Memory.RecentWindow == 0 {
		c.Memory.RecentWindow = DefaultRecentWindow
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
