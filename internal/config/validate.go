package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *RouterConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	for _, p := range []struct{ name, path string }{
		{"server.ws_path", c.Server.WSPath},
		{"server.health_path", c.Server.HealthPath},
		{"server.stats_path", c.Server.StatsPath},
	} {
		if !strings.HasPrefix(p.path, "/") {
			return fmt.Errorf("%s must start with /, got %q", p.name, p.path)
		}
	}
	if c.Server.WSPath == c.Server.HealthPath || c.Server.WSPath == c.Server.StatsPath {
		return fmt.Errorf("server.ws_path %q collides with another endpoint", c.Server.WSPath)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must be >= 0")
	}

	if c.Transport.ReadLimit < 0 {
		return errors.New("transport.read_limit must be >= 0")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"transport.write_timeout", c.Transport.WriteTimeout},
		{"transport.pong_wait", c.Transport.PongWait},
		{"transport.ping_period", c.Transport.PingPeriod},
	} {
		if d.v < 0 {
			return fmt.Errorf("%s must be >= 0", d.name)
		}
	}
	if c.Transport.QueueCapacity < 1 {
		return errors.New("transport.queue_capacity must be >= 1")
	}
	if c.Transport.PongWait > 0 && c.Transport.PingPeriod >= c.Transport.PongWait {
		return fmt.Errorf("transport.ping_period (%v) must be less than pong_wait (%v)", c.Transport.PingPeriod, c.Transport.PongWait)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be > 0")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
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
