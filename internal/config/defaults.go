package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAckTimeout        = 5 * time.Second
	DefaultPingTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultReconnectBaseWait = 1 * time.Second
	DefaultReconnectMaxWait  = 30 * time.Second
	DefaultMessageBufferSize = 1000
	DefaultTypingTTL         = 4 * time.Second
	DefaultSweepInterval     = 500 * time.Millisecond
	DefaultRetryBaseWait     = 1 * time.Second
	DefaultRetryMaxWait      = 30 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Connection.AckTimeout == 0 {
		c.Connection.AckTimeout = DefaultAckTimeout
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.ReconnectBaseWait == 0 {
		c.Connection.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Connection.ReconnectMaxWait == 0 {
		c.Connection.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.Connection.MessageBufferSize == 0 {
		c.Connection.MessageBufferSize = DefaultMessageBufferSize
	}

	if c.Presence.TypingTTL == 0 {
		c.Presence.TypingTTL = DefaultTypingTTL
	}
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultSweepInterval
	}

	if c.Reconcile.RetryBaseWait == 0 {
		c.Reconcile.RetryBaseWait = DefaultRetryBaseWait
	}
	if c.Reconcile.RetryMaxWait == 0 {
		c.Reconcile.RetryMaxWait = DefaultRetryMaxWait
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
