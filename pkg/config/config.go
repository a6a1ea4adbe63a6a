package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path             string        `yaml:"path"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		SendQueueSize    int           `yaml:"send_queue_size"`
		InboundQueueSize int           `yaml:"inbound_queue_size"`
	} `yaml:"signal"`

	Storage struct {
		// Driver is one of memory, redis or sqlite.
		Driver    string        `yaml:"driver"`
		OpTimeout time.Duration `yaml:"op_timeout"`
	} `yaml:"storage"`

	Redis struct {
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
		LockWait time.Duration `yaml:"lock_wait"`
	} `yaml:"redis"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Auth struct {
		// Enabled requires a signed token on /ws; identity then comes from its claims.
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxConnections      int     `yaml:"max_connections"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		ServiceName    string  `yaml:"service_name"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SamplingRate   float64 `yaml:"sampling_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Limits struct {
		MaxMessageLength int `yaml:"max_message_length"`
		MaxNameLength    int `yaml:"max_name_length"`
	} `yaml:"limits"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Bootstrap struct {
		// SuperAdmins are created (or granted the role) at startup.
		SuperAdmins []string `yaml:"super_admins"`
	} `yaml:"bootstrap"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if !strings.HasPrefix(c.Signal.Path, "/") {
		return fmt.Errorf("signal.path must start with /")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}
	if c.Signal.InboundQueueSize <= 0 {
		return fmt.Errorf("signal.inbound_queue_size must be > 0")
	}

	// Storage
	switch c.Storage.Driver {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be one of memory, redis, sqlite (got %q)", c.Storage.Driver)
	}
	if c.Storage.OpTimeout <= 0 {
		return fmt.Errorf("storage.op_timeout must be > 0")
	}
	if c.Storage.Driver == "redis" {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.driver=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.driver=redis")
		}
		if c.Redis.LockTTL <= 0 || c.Redis.LockWait <= 0 {
			return fmt.Errorf("redis.lock_ttl and redis.lock_wait must be > 0 when storage.driver=redis")
		}
	}
	if c.Storage.Driver == "sqlite" && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path must not be empty when storage.driver=sqlite")
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxConnections < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_connections must be >= 0")
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("tracing.sampling_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Limits
	if c.Limits.MaxMessageLength <= 0 {
		return fmt.Errorf("limits.max_message_length must be > 0")
	}
	if c.Limits.MaxNameLength <= 0 {
		return fmt.Errorf("limits.max_name_length must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.InboundQueueSize = 64

	cfg.Storage.Driver = "memory"
	cfg.Storage.OpTimeout = 5 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.LockTTL = 5 * time.Second
	cfg.Redis.LockWait = 3 * time.Second

	cfg.SQLite.Path = "chatty.db"

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConnections = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 1 << 20

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 15 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "chatty"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SamplingRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Limits.MaxMessageLength = 4000
	cfg.Limits.MaxNameLength = 64

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("CHATTY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CHATTY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("CHATTY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if driver := os.Getenv("CHATTY_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if addr := os.Getenv("CHATTY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if pw := os.Getenv("CHATTY_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if path := os.Getenv("CHATTY_SQLITE_PATH"); path != "" {
		c.SQLite.Path = path
	}
	if secret := os.Getenv("CHATTY_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if v := os.Getenv("CHATTY_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHATTY_AUTH_ENABLED: %w", err)
		}
		c.Auth.Enabled = enabled
	}
	if v := os.Getenv("CHATTY_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHATTY_TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	if admins := os.Getenv("CHATTY_SUPER_ADMINS"); admins != "" {
		c.Bootstrap.SuperAdmins = nil
		for _, name := range strings.Split(admins, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Bootstrap.SuperAdmins = append(c.Bootstrap.SuperAdmins, name)
			}
		}
	}
	return nil
}
