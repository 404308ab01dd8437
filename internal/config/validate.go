package config

import (
	"fmt"
	"net"
)

func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin config: %w", err)
	}

	if err := c.Presence.Validate(); err != nil {
		return fmt.Errorf("presence config: %w", err)
	}

	// Redis is only dialed for the redis presence store
	if c.Presence.Enabled && c.Presence.Store == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func (t *TransportConfig) Validate() error {
	if t.Network != "tcp" && t.Network != "udp" {
		return fmt.Errorf("network must be 'tcp' or 'udp', got %q", t.Network)
	}

	if t.ListenAddr != "" && net.ParseIP(t.ListenAddr) == nil {
		return fmt.Errorf("listen_addr must be an IP address: %s", t.ListenAddr)
	}

	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid port: %d", t.Port)
	}

	if t.Backlog <= 0 {
		return fmt.Errorf("backlog must be positive")
	}

	if t.SocketBufferSize < MinSocketBufferSize {
		return fmt.Errorf("socket_buffer_size (%d) is below the minimum of %d bytes",
			t.SocketBufferSize, MinSocketBufferSize)
	}

	if t.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}

	limit := MaxStreamMessageSize
	if t.Network == "udp" {
		limit = MaxDatagramMessageSize
	}
	if t.MaxMessageSize > limit {
		return fmt.Errorf("max_message_size (%d) exceeds the %s limit of %d bytes",
			t.MaxMessageSize, t.Network, limit)
	}

	// A full frame must fit the socket buffer or it can never be received
	if t.MaxMessageSize+4 > t.SocketBufferSize {
		return fmt.Errorf("max_message_size (%d) does not fit socket_buffer_size (%d)",
			t.MaxMessageSize, t.SocketBufferSize)
	}

	if t.TimeoutEnabled && t.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive when timeout_enabled is set")
	}

	if t.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	if t.WriteTimeout < 0 || t.DialTimeout < 0 {
		return fmt.Errorf("write_timeout and dial_timeout cannot be negative")
	}

	if t.MaxConnections < 0 || t.MaxConnectionsPerHost < 0 {
		return fmt.Errorf("connection limits cannot be negative")
	}

	if t.MaxConnections > 0 && t.MaxConnectionsPerHost > t.MaxConnections {
		return fmt.Errorf("max_connections_per_host (%d) cannot exceed max_connections (%d)",
			t.MaxConnectionsPerHost, t.MaxConnections)
	}

	if t.AcceptRate < 0 {
		return fmt.Errorf("accept_rate cannot be negative")
	}

	if t.AcceptRate > 0 && t.AcceptBurst <= 0 {
		return fmt.Errorf("accept_burst must be positive when accept_rate is set")
	}

	if t.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity cannot be negative")
	}

	return nil
}

func (a *AdminConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", a.Port)
	}

	if a.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

func (p *PresenceConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.Store != "redis" && p.Store != "memory" {
		return fmt.Errorf("store must be 'redis' or 'memory', got %q", p.Store)
	}

	if p.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if p.HeartbeatInterval <= 0 || p.HeartbeatInterval >= p.TTL {
		return fmt.Errorf("heartbeat_interval must be positive and shorter than ttl")
	}

	if p.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}

	return nil
}
