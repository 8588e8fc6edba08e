package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: router-1
server:
  listen_addr: 127.0.0.1:9000
  allowed_origins: [https://app.example.com]
transport:
  pong_wait: 20s
  ping_period: 5s
router:
  deliver_to_publisher: true
journal:
  enabled: true
  database:
    host: localhost
    port: 5433
    name: router
    user: router
    password: pass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "router-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "router-1")
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:9000")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Transport.PongWait != 20*time.Second {
		t.Errorf("Transport.PongWait = %v, want 20s", cfg.Transport.PongWait)
	}
	if !cfg.Router.DeliverToPublisher {
		t.Error("Router.DeliverToPublisher = false, want true")
	}
	if cfg.Journal.Database.Port != 5433 {
		t.Errorf("Journal.Database.Port = %d, want 5433", cfg.Journal.Database.Port)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_LISTEN", ":7000")

	yaml := `
instance:
  id: router-1
server:
  listen_addr: "${TEST_LISTEN}"
journal:
  database:
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Journal.Database.Password != "secret123" {
		t.Errorf("Journal.Database.Password = %q, want %q", cfg.Journal.Database.Password, "secret123")
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":7000")
	}
}

func TestParse_EnvFallback(t *testing.T) {
	t.Setenv("TEST_SET", "from-env")
	t.Setenv("TEST_EMPTY", "")

	cfg, err := Parse([]byte(`
instance:
  id: ${TEST_SET:-ignored}
server:
  listen_addr: "${TEST_UNSET_ADDR:-:9100}"
  ws_path: ${TEST_EMPTY:-/socket}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Instance.ID != "from-env" {
		t.Errorf("Instance.ID = %q, want from-env", cfg.Instance.ID)
	}
	if cfg.Server.ListenAddr != ":9100" {
		t.Errorf("Server.ListenAddr = %q, want :9100", cfg.Server.ListenAddr)
	}
	if cfg.Server.WSPath != "/socket" {
		t.Errorf("Server.WSPath = %q, want /socket", cfg.Server.WSPath)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("server:\n  listen_adr: \":1\"\n")); err == nil {
		t.Error("Parse accepted a misspelt key")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if cfg.Instance.ID != "" {
		t.Errorf("Instance.ID = %q, want empty", cfg.Instance.ID)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
	if _, err := Parse([]byte("instance: [unclosed")); err == nil {
		t.Error("Parse of invalid yaml succeeded")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: router-1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("Server.ListenAddr = %q, want default %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.WSPath != DefaultWSPath {
		t.Errorf("Server.WSPath = %q, want default %q", cfg.Server.WSPath, DefaultWSPath)
	}
	if cfg.Transport.PingPeriod != DefaultPingPeriod {
		t.Errorf("Transport.PingPeriod = %v, want default %v", cfg.Transport.PingPeriod, DefaultPingPeriod)
	}
	if cfg.Transport.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("Transport.QueueCapacity = %d, want default %d", cfg.Transport.QueueCapacity, DefaultQueueCapacity)
	}
	if cfg.Journal.Enabled {
		t.Error("Journal.Enabled = true, want false by default")
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want default %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v, want defaults", cfg.Log)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "server:\n  listen_addr: \":1\"\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate accepted config without instance.id")
	}
}

func TestLoadAndValidate_NegativeFlushInterval(t *testing.T) {
	path := writeTempFile(t, `instance:
  id: r1
journal:
  enabled: true
  flush_interval: -1s
  database:
    host: localhost
    name: db
    user: user
    password: pass
`)
	_, err := LoadAndValidate(path)
	if err == nil || err.Error() != "journal.flush_interval must be > 0" {
		t.Errorf("LoadAndValidate() error = %v, want flush_interval rejection", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Instance.ID != DefaultInstanceID {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, DefaultInstanceID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() RouterConfig {
		cfg := Default()
		return *cfg
	}
	db := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 4, MinConns: 1}

	tests := []struct {
		name    string
		mutate  func(*RouterConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *RouterConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "relative ws path",
			mutate:  func(c *RouterConfig) { c.Server.WSPath = "ws" },
			wantErr: `server.ws_path must start with /, got "ws"`,
		},
		{
			name:    "ws path collides with health",
			mutate:  func(c *RouterConfig) { c.Server.WSPath = c.Server.HealthPath },
			wantErr: `server.ws_path "/health" collides with another endpoint`,
		},
		{
			name:    "negative shutdown timeout",
			mutate:  func(c *RouterConfig) { c.Server.ShutdownTimeout = -time.Second },
			wantErr: "server.shutdown_timeout must be >= 0",
		},
		{
			name:    "negative write timeout",
			mutate:  func(c *RouterConfig) { c.Transport.WriteTimeout = -time.Second },
			wantErr: "transport.write_timeout must be >= 0",
		},
		{
			name:    "negative pong wait",
			mutate:  func(c *RouterConfig) { c.Transport.PongWait = -time.Second },
			wantErr: "transport.pong_wait must be >= 0",
		},
		{
			name:    "negative ping period",
			mutate:  func(c *RouterConfig) { c.Transport.PingPeriod = -time.Second },
			wantErr: "transport.ping_period must be >= 0",
		},
		{
			name: "non-positive flush interval",
			mutate: func(c *RouterConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = db
				c.Journal.FlushInterval = -time.Second
			},
			wantErr: "journal.flush_interval must be > 0",
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *RouterConfig) { c.Transport.QueueCapacity = 0 },
			wantErr: "transport.queue_capacity must be >= 1",
		},
		{
			name: "ping not below pong wait",
			mutate: func(c *RouterConfig) {
				c.Transport.PingPeriod = time.Minute
				c.Transport.PongWait = time.Minute
			},
			wantErr: "transport.ping_period (1m0s) must be less than pong_wait (1m0s)",
		},
		{
			name:    "journal without database host",
			mutate:  func(c *RouterConfig) { c.Journal.Enabled = true },
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *RouterConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = db
				c.Journal.Database.MinConns = 10
			},
			wantErr: "journal.database.min_conns (10) cannot exceed max_conns (4)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *RouterConfig) { c.Log.Level = "loud" },
			wantErr: `log.level must be one of debug, info, warn, error, got "loud"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *RouterConfig) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name: "valid with journal",
			mutate: func(c *RouterConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = db
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("MSGROUTER_DB_PASSWORD", "example")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("config.example.yaml does not load: %v", err)
	}
	if cfg.Instance.ID != "msgrouter-1" {
		t.Errorf("Instance.ID = %q, want msgrouter-1", cfg.Instance.ID)
	}
	if cfg.Journal.Database.Password != "example" {
		t.Errorf("Journal.Database.Password = %q, want expanded value", cfg.Journal.Database.Password)
	}
	if cfg.Transport.PingPeriod >= cfg.Transport.PongWait {
		t.Errorf("ping_period %v not below pong_wait %v", cfg.Transport.PingPeriod, cfg.Transport.PongWait)
	}
}
