package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Socket buffer and message size limits shared by the transport and validation.
const (
	// MinSocketBufferSize is the floor for the kernel socket buffers (256KB)
	MinSocketBufferSize = 256 * 1024

	// DefaultSocketBufferSize is used when no size is configured (1MB)
	DefaultSocketBufferSize = 1024 * 1024

	// DefaultMaxMessageSize is the largest application payload accepted by default
	DefaultMaxMessageSize = 1225

	// MaxStreamMessageSize caps a single length-prefixed frame (16MB)
	MaxStreamMessageSize = 16 << 20

	// MaxDatagramMessageSize is the largest payload that fits one UDP datagram
	// after the 12 byte RTP header.
	MaxDatagramMessageSize = 65507 - 12
)

type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type TransportConfig struct {
	Network          string        `mapstructure:"network"` // tcp or udp
	ListenAddr       string        `mapstructure:"listen_addr"`
	Port             int           `mapstructure:"port"`
	Backlog          int           `mapstructure:"backlog"`
	SocketBufferSize int           `mapstructure:"socket_buffer_size"`
	MaxMessageSize   int           `mapstructure:"max_message_size"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	TimeoutEnabled   bool          `mapstructure:"timeout_enabled"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`

	// Admission control
	MaxConnections        int     `mapstructure:"max_connections"`
	MaxConnectionsPerHost int     `mapstructure:"max_connections_per_host"`
	AcceptRate            float64 `mapstructure:"accept_rate"` // accepts per second, 0 disables
	AcceptBurst           int     `mapstructure:"accept_burst"`

	QueueCapacity int `mapstructure:"queue_capacity"` // per delivery class, 0 = unbounded
}

// BindAddress returns the host:port the server listens on.
func (t *TransportConfig) BindAddress() string {
	return net.JoinHostPort(t.ListenAddr, strconv.Itoa(t.Port))
}

type AdminConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`
}

type PresenceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Store             string        `mapstructure:"store"` // redis or memory
	KeyPrefix         string        `mapstructure:"key_prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	// Environment variable override
	v.SetEnvPrefix("NETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

// Default returns the built-in configuration with environment overrides
// applied, for commands that run without a config file.
func Default() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Transport defaults
	v.SetDefault("transport.network", "tcp")
	v.SetDefault("transport.listen_addr", "0.0.0.0")
	v.SetDefault("transport.port", 7777)
	v.SetDefault("transport.backlog", 100)
	v.SetDefault("transport.socket_buffer_size", DefaultSocketBufferSize)
	v.SetDefault("transport.max_message_size", DefaultMaxMessageSize)
	v.SetDefault("transport.idle_timeout", "15s")
	v.SetDefault("transport.timeout_enabled", true)
	v.SetDefault("transport.tick_interval", "16ms")
	v.SetDefault("transport.write_timeout", "2s")
	v.SetDefault("transport.dial_timeout", "5s")
	v.SetDefault("transport.max_connections", 1024)
	v.SetDefault("transport.max_connections_per_host", 16)
	v.SetDefault("transport.accept_rate", 100)
	v.SetDefault("transport.accept_burst", 20)
	v.SetDefault("transport.queue_capacity", 4096)

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.read_timeout", "10s")
	v.SetDefault("admin.write_timeout", "10s")
	v.SetDefault("admin.shutdown_timeout", "10s")
	v.SetDefault("admin.debug_endpoints", false)

	// Presence defaults
	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.store", "redis")
	v.SetDefault("presence.key_prefix", "netsync:")
	v.SetDefault("presence.ttl", "30s")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.event_buffer", 1024)

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
