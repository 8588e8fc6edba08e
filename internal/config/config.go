package config

import "time"

// RouterConfig is the root configuration for a router instance.
type RouterConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Router    BrokerConfig    `yaml:"router"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this router.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WSPath          string        `yaml:"ws_path"`
	HealthPath      string        `yaml:"health_path"`
	StatsPath       string        `yaml:"stats_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // Empty allows any origin
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig holds per-connection settings.
type TransportConfig struct {
	ReadLimit         int64         `yaml:"read_limit"` // Max bytes per inbound WebSocket message
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongWait          time.Duration `yaml:"pong_wait"`
	PingPeriod        time.Duration `yaml:"ping_period"`
	QueueCapacity     int           `yaml:"queue_capacity"` // Initial outbound queue size; the queue grows as needed
	MaxRetainedBuffer int           `yaml:"max_retained_buffer"`
}

// BrokerConfig holds routing policy.
type BrokerConfig struct {
	DeliverToPublisher bool `yaml:"deliver_to_publisher"`
}

// JournalConfig holds the lifecycle journal settings. The journal records
// connects, disconnects and service ownership changes, never payloads.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
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

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
