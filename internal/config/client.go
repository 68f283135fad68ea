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

// ClientConfig is the full configuration of the chatclient binary.
type ClientConfig struct {
	Client       ClientInfo      `yaml:"client"`
	Server       ServerAddr      `yaml:"server"`
	PollInterval time.Duration   `yaml:"poll_interval"` // default: 200ms
	Heartbeat    HeartbeatConfig `yaml:"heartbeat"`
	Logging      LoggingInfo     `yaml:"logging"`
}

// ClientInfo identifies the client in CONNECT's display-name field.
type ClientInfo struct {
	Name string `yaml:"name"`
}

// ServerAddr is the relay server's dial address.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// LoadClientConfig reads and validates the client YAML config at path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Client.Name == "" {
		return fmt.Errorf("client.name is required")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
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
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}
