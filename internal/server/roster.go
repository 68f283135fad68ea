// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"net"
	"sync"

	"github.com/nishisan-dev/chat-relay/internal/heartbeat"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
)

// rosterEntry is one connected client. Its reader is used only by its own
// per-client task. Its writer is also used by other clients' sessions (to
// relay FWDs and ACKs) and by shutdown (to send DISCONNECT); the
// StreamWriter's mutex serializes those writes. The heartbeat ticker may
// close its conn. The entry itself, not a shared pointer, is the unit of
// lifetime.
type rosterEntry struct {
	id     uint8
	name   string
	addr   string
	conn   net.Conn
	reader *protocol.StreamReader
	writer *protocol.StreamWriter

	hb       *heartbeat.Monitor
	stopBeat chan struct{}
}

// roster is the server's table of connected clients, guarded by a single
// mutex. Every operation is transactional — lock, act, unlock — per the
// spec's "no long-lived references across suspension points" rule.
type roster struct {
	mu      sync.Mutex
	entries map[uint8]*rosterEntry
}

func newRoster() *roster {
	return &roster{entries: make(map[uint8]*rosterEntry)}
}

// assignID finds the smallest free id in [1,254], sets entry.id to it and
// stores entry under it, returning protocol.ErrNoFreeID if the roster is full.
func (r *roster) assignID(entry *rosterEntry) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := protocol.MinClientID; id <= protocol.MaxClientID; id++ {
		if _, taken := r.entries[id]; !taken {
			entry.id = id
			r.entries[id] = entry
			return id, nil
		}
	}
	return 0, protocol.ErrNoFreeID
}

// count returns the number of currently connected clients.
func (r *roster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *roster) get(id uint8) (*rosterEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *roster) remove(id uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// snapshot returns a stable copy of the roster for read-only use (REQCLILIST
// replies, housekeeping diagnostics). Acquiring the lock once here avoids
// handing out live map references.
func (r *roster) snapshot() []*rosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*rosterEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
