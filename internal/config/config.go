package config

import "time"

// Config is the root configuration for the realtime client.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Presence   PresenceConfig   `yaml:"presence"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID string `yaml:"id"` // Instance identifier for logs and metrics
}

// ServerConfig holds the collaboration server endpoints and credential.
type ServerConfig struct {
	WSURL   string `yaml:"ws_url"`   // WebSocket URL (e.g. wss://app.example.com/realtime)
	RestURL string `yaml:"rest_url"` // REST base URL for authoritative refetches
	Token   string `yaml:"token"`    // Opaque bearer token (use ${ENV_VAR} in the file)
}

// ConnectionConfig tunes the transport and reconnection behavior.
type ConnectionConfig struct {
	AckTimeout        time.Duration `yaml:"ack_timeout"`         // Max wait for the handshake ack
	PingTimeout       time.Duration `yaml:"ping_timeout"`        // Max silence before the connection is stale
	WriteTimeout      time.Duration `yaml:"write_timeout"`       // Write deadline for sends
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"` // First retry delay
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`  // Retry delay cap
	MessageBufferSize int           `yaml:"message_buffer_size"` // Inbound message channel capacity
}

// PresenceConfig tunes the presence and typing tracker.
type PresenceConfig struct {
	TypingTTL     time.Duration `yaml:"typing_ttl"`     // Typing entry lifetime without a refresh
	SweepInterval time.Duration `yaml:"sweep_interval"` // Expiry sweep period
}

// ReconcileConfig tunes the reconciliation coordinator.
type ReconcileConfig struct {
	RetryBaseWait time.Duration `yaml:"retry_base_wait"` // First retry delay after a failed refetch
	RetryMaxWait  time.Duration `yaml:"retry_max_wait"`  // Retry delay cap
	SweepInterval time.Duration `yaml:"sweep_interval"`  // Periodic stale-domain sweep (0 = disabled)
}

// MetricsConfig configures the metrics/health HTTP endpoint.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
