package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("server.ws_url must use ws:// or wss://, got %q", c.Server.WSURL)
	}
	if c.Server.RestURL == "" {
		return errors.New("server.rest_url is required")
	}
	if c.Server.Token == "" {
		return errors.New("server.token is required")
	}

	if c.Connection.ReconnectBaseWait > c.Connection.ReconnectMaxWait {
		return errors.New("connection.reconnect_base_wait must not exceed reconnect_max_wait")
	}
	if c.Connection.MessageBufferSize < 1 {
		return errors.New("connection.message_buffer_size must be >= 1")
	}

	if c.Presence.TypingTTL <= 0 {
		return errors.New("presence.typing_ttl must be > 0")
	}
	if c.Presence.SweepInterval <= 0 {
		return errors.New("presence.sweep_interval must be > 0")
	}
	if c.Presence.SweepInterval > c.Presence.TypingTTL {
		return errors.New("presence.sweep_interval must not exceed typing_ttl")
	}

	if c.Reconcile.RetryBaseWait > c.Reconcile.RetryMaxWait {
		return errors.New("reconcile.retry_base_wait must not exceed retry_max_wait")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
