// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package schedule

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

// HostStatsJob returns a job that logs the relay host's current memory
// pressure. It is diagnostic only — nothing in the wire protocol depends on
// it — and exists to show the relay is still breathing under load the way an
// operator would expect from an always-on service.
func HostStatsJob(logger *slog.Logger) func() {
	return func() {
		vm, err := mem.VirtualMemory()
		if err != nil {
			logger.Warn("host stats collection failed", "error", err)
			return
		}
		logger.Info("host stats",
			"mem_total_bytes", vm.Total,
			"mem_used_bytes", vm.Used,
			"mem_used_percent", vm.UsedPercent,
		)
	}
}

// RosterSnapshot describes one connected client at the moment a snapshot
// job runs.
type RosterSnapshot struct {
	ID   uint8
	Name string
	Addr string
}

// RosterSnapshotJob returns a job that logs the server's currently connected
// clients. snapshot is supplied by the server engine so this package stays
// free of any dependency on internal/server's roster type.
func RosterSnapshotJob(logger *slog.Logger, snapshot func() []RosterSnapshot) func() {
	return func() {
		roster := snapshot()
		logger.Info("roster snapshot", "client_count", len(roster))
		for _, r := range roster {
			logger.Debug("roster entry", "id", r.ID, "name", r.Name, "addr", r.Addr)
		}
	}
}
