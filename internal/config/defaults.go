package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "msgrouter"
	DefaultListenAddr        = ":8080"
	DefaultWSPath            = "/ws"
	DefaultHealthPath        = "/health"
	DefaultStatsPath         = "/debug/stats"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadLimit         = 16 << 20
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultPingPeriod        = 30 * time.Second
	DefaultQueueCapacity     = 64
	DefaultMaxRetainedBuffer = 1 << 20
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 1000
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *RouterConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.HealthPath == "" {
		c.Server.HealthPath = DefaultHealthPath
	}
	if c.Server.StatsPath == "" {
		c.Server.StatsPath = DefaultStatsPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Transport defaults
	if c.Transport.ReadLimit == 0 {
		c.Transport.ReadLimit = DefaultReadLimit
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PongWait == 0 {
		c.Transport.PongWait = DefaultPongWait
	}
	if c.Transport.PingPeriod == 0 {
		c.Transport.PingPeriod = DefaultPingPeriod
	}
	if c.Transport.QueueCapacity == 0 {
		c.Transport.QueueCapacity = DefaultQueueCapacity
	}
	if c.Transport.MaxRetainedBuffer == 0 {
		c.Transport.MaxRetainedBuffer = DefaultMaxRetainedBuffer
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
