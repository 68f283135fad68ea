// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package correlation implements the in-flight tables that match an inbound
// ACK back to the request it closes. It is the one piece of mutable shared
// state the client and server engines both need, so every operation here is
// transactional: a method locks, performs its whole action, and unlocks —
// never hands back a reference that outlives the critical section.
package correlation

import (
	"sync"

	"github.com/nishisan-dev/chat-relay/internal/protocol"
)

// ClientTable maps an outstanding request's packet id to the kind of
// request it was, so that when the matching ACK arrives the client engine
// knows how to interpret the ACK's payload.
type ClientTable struct {
	mu      sync.Mutex
	pending map[uint16]protocol.Kind
}

// NewClientTable constructs an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{pending: make(map[uint16]protocol.Kind)}
}

// Insert records that id is awaiting an ACK for a request of kind k. It
// fails with protocol.ErrDuplicateID if id is already pending — the
// allocator should make this unreachable; it signals an invariant
// violation, not ordinary contention.
func (t *ClientTable) Insert(id uint16, k protocol.Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return protocol.ErrDuplicateID
	}
	t.pending[id] = k
	return nil
}

// Take removes id from the table and reports the kind it was awaiting. The
// second return value is false if id was not pending — an unknown-ACK
// delivery is a no-op for state, not an error, per the idempotent-redelivery
// invariant.
func (t *ClientTable) Take(id uint16) (protocol.Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return k, ok
}

// Len reports the number of currently outstanding requests. Diagnostic only.
func (t *ClientTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// PacketInfo is the server-side in-flight record bridging the two ACK hops
// of a relay: the original REQSEND's id/sender/receiver, and what kind of
// exchange is pending: protocol.KindForward for a relay, or
// protocol.KindDisconnect for a server-initiated teardown awaiting its ACK.
type PacketInfo struct {
	OriginalPacketID uint16
	OriginalSender   uint8
	OriginalReceiver uint8
	PendingKind      protocol.Kind
}

// ServerTable maps a newly allocated packet id (the FWD or server-initiated
// DISCONNECT id) to the PacketInfo needed to close the loop once its ACK
// arrives.
type ServerTable struct {
	mu      sync.Mutex
	pending map[uint16]PacketInfo
}

// NewServerTable constructs an empty table.
func NewServerTable() *ServerTable {
	return &ServerTable{pending: make(map[uint16]PacketInfo)}
}

// Insert records info under key id.
func (t *ServerTable) Insert(id uint16, info PacketInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = info
}

// Take removes id and returns its PacketInfo, or (zero, false) if absent.
func (t *ServerTable) Take(id uint16) (PacketInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return info, ok
}

// ClearForDepartedClient implements "clear in-flight on client-exit" (§4.6)
// in one pass over the table: every entry whose OriginalSender is the
// departing client is silently discarded (asSender); every entry whose
// OriginalReceiver is the departing client is discarded too, but returned
// in asReceiver so the caller can still notify the original sender with the
// fixed disconnect error before the entry is gone. Each entry is returned at
// most once: one whose sender and receiver are both the departing client is
// returned in asSender only.
func (t *ServerTable) ClearForDepartedClient(clientID uint8) (asSender, asReceiver []PacketInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, info := range t.pending {
		switch clientID {
		case info.OriginalSender:
			asSender = append(asSender, info)
			delete(t.pending, id)
		case info.OriginalReceiver:
			asReceiver = append(asReceiver, info)
			delete(t.pending, id)
		}
	}
	return asSender, asReceiver
}

// Len reports the number of currently outstanding relays. Diagnostic only.
func (t *ServerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
