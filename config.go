package nexus

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Environment identifies the deployment context.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

// Config is the full configuration for one nexus node. All environment
// variables use the ACDIN_ prefix for isolation; see the feeders package for
// the supported sources (environment, YAML, TOML).
//
// The core treats a loaded Config as immutable for its process lifetime.
// The config watcher reports file changes as events for the operator to act
// on; it never mutates a running nexus.
type Config struct {
	// Environment is the runtime environment.
	Environment Environment `json:"environment" yaml:"environment" toml:"environment" env:"ENVIRONMENT"`

	// NodeID uniquely identifies this nexus node. Generated as
	// "node_<hex>" when left empty.
	NodeID string `json:"nodeId" yaml:"nodeId" toml:"nodeId" env:"NODE_ID"`

	// APIHost is the bind host for the HTTP API server.
	APIHost string `json:"apiHost" yaml:"apiHost" toml:"apiHost" env:"API_HOST"`

	// APIPort is the bind port for the HTTP API server. Must be a
	// non-privileged port (1024-65535).
	APIPort int `json:"apiPort" yaml:"apiPort" toml:"apiPort" env:"API_PORT"`

	// DiscoveryPollIntervalSeconds is the heartbeat monitor scan cadence.
	// Minimum 5 seconds for rate limiting.
	DiscoveryPollIntervalSeconds int `json:"discoveryPollIntervalSeconds" yaml:"discoveryPollIntervalSeconds" toml:"discoveryPollIntervalSeconds" env:"DISCOVERY_POLL_INTERVAL_SECONDS"`

	// HeartbeatTimeoutSeconds is the window without a heartbeat after
	// which a module is considered degraded, and after a second full
	// window, unresponsive. Minimum 30 seconds.
	HeartbeatTimeoutSeconds int `json:"heartbeatTimeoutSeconds" yaml:"heartbeatTimeoutSeconds" toml:"heartbeatTimeoutSeconds" env:"HEARTBEAT_TIMEOUT_SECONDS"`

	// QueueCapacity bounds each module's inbound message queue.
	QueueCapacity int `json:"queueCapacity" yaml:"queueCapacity" toml:"queueCapacity" env:"QUEUE_CAPACITY"`

	// DirectSendTimeoutSeconds bounds how long a direct send blocks on a
	// full recipient queue before failing.
	DirectSendTimeoutSeconds int `json:"directSendTimeoutSeconds" yaml:"directSendTimeoutSeconds" toml:"directSendTimeoutSeconds" env:"DIRECT_SEND_TIMEOUT_SECONDS"`

	// SnapshotPath is where the cron checkpointer writes registry
	// snapshots. Empty disables checkpointing.
	SnapshotPath string `json:"snapshotPath,omitempty" yaml:"snapshotPath,omitempty" toml:"snapshotPath" env:"SNAPSHOT_PATH"`

	// SnapshotSchedule is the cron expression driving the checkpointer.
	SnapshotSchedule string `json:"snapshotSchedule,omitempty" yaml:"snapshotSchedule,omitempty" toml:"snapshotSchedule" env:"SNAPSHOT_SCHEDULE"`
}

// DefaultConfig returns a config with the standard defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}
	if c.NodeID == "" {
		c.NodeID = generateNodeID()
	}
	if c.APIHost == "" {
		c.APIHost = "0.0.0.0"
	}
	if c.APIPort == 0 {
		c.APIPort = 8000
	}
	if c.DiscoveryPollIntervalSeconds == 0 {
		c.DiscoveryPollIntervalSeconds = 30
	}
	if c.HeartbeatTimeoutSeconds == 0 {
		c.HeartbeatTimeoutSeconds = 120
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 100
	}
	if c.DirectSendTimeoutSeconds == 0 {
		c.DirectSendTimeoutSeconds = 5
	}
	if c.SnapshotSchedule == "" {
		c.SnapshotSchedule = "@every 5m"
	}
}

// Validate applies defaults and enforces the configured ranges.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	c.applyDefaults()

	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction:
	default:
		return fmt.Errorf("%w: %q", ErrConfigEnvironmentInvalid, c.Environment)
	}
	if strings.ContainsAny(c.NodeID, " \t\n") {
		return fmt.Errorf("%w: %q", ErrConfigNodeIDInvalid, c.NodeID)
	}
	if c.APIPort < 1024 || c.APIPort > 65535 {
		return fmt.Errorf("%w: %d", ErrConfigPortOutOfRange, c.APIPort)
	}
	if c.DiscoveryPollIntervalSeconds < 5 {
		return fmt.Errorf("%w: %ds", ErrConfigPollIntervalTooLow, c.DiscoveryPollIntervalSeconds)
	}
	if c.HeartbeatTimeoutSeconds < 30 {
		return fmt.Errorf("%w: %ds", ErrConfigTimeoutTooLow, c.HeartbeatTimeoutSeconds)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: %d", ErrConfigQueueCapacityTooLow, c.QueueCapacity)
	}
	return nil
}

// PollInterval returns the heartbeat monitor cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.DiscoveryPollIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns the heartbeat staleness window as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// DirectSendTimeout returns the direct-send backpressure bound as a duration.
func (c *Config) DirectSendTimeout() time.Duration {
	return time.Duration(c.DirectSendTimeoutSeconds) * time.Second
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// generateNodeID produces a random node identity in the form node_<hex>.
func generateNodeID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("node_%d", time.Now().UnixNano())
	}
	return "node_" + hex.EncodeToString(buf)
}
