// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package schedule hosts the chatserver's small, fixed set of process-level
// housekeeping jobs: periodic host-memory logging and a roster-snapshot
// diagnostic. These are operational diagnostics, not part of the wire
// protocol, and run on a totally different cadence model than the
// per-connection heartbeat ticking in internal/heartbeat — hence robfig/cron
// here instead of time.Ticker.
package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron.Cron configured the way the rest of this codebase's
// ancestry configures it: a verbose logger bridged from slog, so cron's own
// run/skip/error events land in the same structured log stream as everything
// else.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New constructs a Scheduler that logs its own activity through logger.
func New(logger *slog.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger)),
		logger: logger,
	}
}

// AddEvery registers fn to run every interval. interval is translated to
// cron's "@every" spec, so callers can pass a config-supplied time.Duration
// rather than a cron expression. robfig/cron rounds intervals below one
// second up to one second and truncates sub-second remainders.
func (s *Scheduler) AddEvery(interval time.Duration, fn func()) error {
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and blocks until any jobs already running finish,
// matching robfig/cron's cooperative-shutdown contract.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
