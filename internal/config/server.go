// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/nishisan-dev/chat-relay/internal/heartbeat"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the full configuration of the chatserver binary.
type ServerConfig struct {
	Server       ServerListen       `yaml:"server"`
	MaxClients   int                `yaml:"max_clients"`   // default: 254, hard cap 254
	PollInterval time.Duration      `yaml:"poll_interval"` // default: 200ms
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Logging      LoggingInfo        `yaml:"logging"`
}

// ServerListen is the relay's listen address and its own display name (used
// when a client issues REQHOST against the server endpoint).
type ServerListen struct {
	Listen string `yaml:"listen"`
	Name   string `yaml:"name"`
}

// HousekeepingConfig schedules the server's fixed, process-level robfig/cron
// jobs (internal/schedule) — these are diagnostics, not part of the wire
// protocol.
type HousekeepingConfig struct {
	HostStatsInterval      time.Duration `yaml:"host_stats_interval"`      // default: 30s
	RosterSnapshotInterval time.Duration `yaml:"roster_snapshot_interval"` // default: 60s
}

// LoadServerConfig reads and validates the server YAML config at path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.Name == "" {
		c.Server.Name = "chat-relay"
	}
	if c.MaxClients <= 0 {
		c.MaxClients = protocol.MaxClientsCap
	}
	if c.MaxClients > protocol.MaxClientsCap {
		return fmt.Errorf("max_clients must be at most %d, got %d", protocol.MaxClientsCap, c.MaxClients)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = protocol.DefaultPollInterval
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = heartbeat.DefaultInterval * time.Second
	}
	if c.Heartbeat.MissThreshold <= 0 {
		c.Heartbeat.MissThreshold = heartbeat.DefaultMissThreshold
	}
	if c.Housekeeping.HostStatsInterval <= 0 {
		c.Housekeeping.HostStatsInterval = 30 * time.Second
	}
	if c.Housekeeping.RosterSnapshotInterval <= 0 {
		c.Housekeeping.RosterSnapshotInterval = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
