package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Stream   StreamConfig   `yaml:"stream"`
	Vision   VisionConfig   `yaml:"vision"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Memory   MemoryConfig   `yaml:"memory"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StreamConfig holds the client-side session settings (used by the
// lensctl tool and exported for embedding clients).
type StreamConfig struct {
	URL             string        `yaml:"url"` // defaults to ws://localhost:8000/ws, override via ${NEUROLENS_WS_URL}
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	MaxAttempts     int           `yaml:"max_attempts"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// VisionConfig holds the upstream inference service settings.
type VisionConfig struct {
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	OCREnabled          bool          `yaml:"ocr_enabled"`
}

// DatabaseConfig holds the Postgres connection for the frame archive.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
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

// ArchiveConfig holds the frame archive writer settings.
type ArchiveConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BatchSize        int           `yaml:"batch_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	BufferSize       int           `yaml:"buffer_size"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// MemoryConfig holds the detection memory settings.
type MemoryConfig struct {
	MaxMessages  int           `yaml:"max_messages"`
	DetectionTTL time.Duration `yaml:"detection_ttl"`
	SceneHistory int           `yaml:"scene_history"`
	RecentWindow time.Duration `yaml:"recent_window"`
}
