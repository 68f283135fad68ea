// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import "time"

// LoggingInfo configures the shared slog-based logger (internal/logging).
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default: info)
	Format string `yaml:"format"` // json|text (default: json for the server, text for the client)
}

// HeartbeatConfig configures the per-connection liveness ping shared by the
// server and client engines (internal/heartbeat).
type HeartbeatConfig struct {
	Interval      time.Duration `yaml:"interval"`       // default: 5s
	MissThreshold int           `yaml:"miss_threshold"` // default: 3
}
