// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nishisan-dev/chat-relay/internal/correlation"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
)

const (
	errReceiverNotFound     = "The receiver is not found."
	errPeerMismatch         = "Error in connection between the server and the receiver."
	errReceiverDisconnected = "Error in connection because the receiver is disconnected."
)

// clientSession runs the per-client receive loop described in §4.6. It owns
// entry for its whole lifetime and exits only on DISCONNECT, peer close,
// fatal read error, or heartbeat timeout.
func (e *Engine) clientSession(entry *rosterEntry) {
	defer func() {
		close(entry.stopBeat)
		e.clearInFlightForDepartedClient(entry.id)
		e.roster.remove(entry.id)
		entry.conn.Close()
		e.logger.Info("client disconnected", "id", entry.id, "name", entry.name)
	}()

	for {
		pkt, err := entry.reader.ReadOne()
		if err != nil {
			return
		}
		if pkt.SenderID != entry.id {
			continue
		}

		switch pkt.Kind {
		case protocol.KindDisconnect:
			entry.writer.SendAck(pkt.ID, protocol.ServerID, entry.id, nil)
			return

		case protocol.KindReqTime:
			entry.writer.SendAck(pkt.ID, protocol.ServerID, entry.id, []string{
				strconv.FormatInt(time.Now().Unix(), 10),
			})

		case protocol.KindReqHost:
			entry.writer.SendAck(pkt.ID, protocol.ServerID, entry.id, []string{e.cfg.Server.Name})

		case protocol.KindReqClients:
			entry.writer.SendAck(pkt.ID, protocol.ServerID, entry.id, e.rosterFields())

		case protocol.KindReqSend:
			e.handleReqSend(entry, pkt)

		case protocol.KindAck:
			if e.handleRelayAck(entry, pkt) {
				return
			}

		case protocol.KindHeartbeat:
			entry.hb.Reset()
			entry.writer.SendHeartbeat(protocol.ServerID, pkt.SenderID)

		default:
			e.logger.Debug("unhandled packet kind from client", "id", entry.id, "kind", pkt.Kind.String())
		}
	}
}

// rosterFields builds one REQCLILIST payload field per connected client:
// "id\0name\0ip\0port\0".
func (e *Engine) rosterFields() []string {
	entries := e.roster.snapshot()
	fields := make([]string, 0, len(entries))
	for _, re := range entries {
		host, port := splitAddr(re.addr)
		fields = append(fields, fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00", re.id, re.name, host, port))
	}
	return fields
}

func splitAddr(addr string) (host, port string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

// handleReqSend implements the REQSEND relay state machine (§4.6 step 1-3):
// the sender's request either fails immediately (receiver absent) or is
// reissued as a FWD to the receiver, with a PacketInfo recorded under the
// FWD's new id to bridge the second ACK hop.
func (e *Engine) handleReqSend(sender *rosterEntry, pkt *protocol.Packet) {
	receiver, ok := e.roster.get(pkt.ReceiverID)
	if !ok {
		sender.writer.SendAck(pkt.ID, protocol.ServerID, sender.id, []string{errReceiverNotFound})
		return
	}

	fwdID, _, err := receiver.writer.SendForward(pkt, receiver.id)
	if err != nil {
		sender.writer.SendAck(pkt.ID, protocol.ServerID, sender.id, []string{errReceiverNotFound})
		return
	}
	e.inflight.Insert(fwdID, correlation.PacketInfo{
		OriginalPacketID: pkt.ID,
		OriginalSender:   sender.id,
		OriginalReceiver: receiver.id,
		PendingKind:      protocol.KindForward,
	})
}

// handleRelayAck closes out the second hop of the relay bridge (the
// receiver's ACK of a FWD), or a server-initiated DISCONNECT ack, per §4.6's
// "ACK" bullet. It reports
// whether the caller's receive loop should exit — true only when this was
// the client's ack of a server-initiated DISCONNECT.
func (e *Engine) handleRelayAck(from *rosterEntry, pkt *protocol.Packet) bool {
	info, ok := e.inflight.Take(pkt.ID)
	if !ok {
		return false
	}

	if info.PendingKind == protocol.KindDisconnect {
		return true
	}

	sender, senderOnline := e.roster.get(info.OriginalSender)
	if !senderOnline {
		return false
	}

	if pkt.SenderID == info.OriginalReceiver && pkt.ReceiverID == info.OriginalSender {
		sender.writer.SendAck(info.OriginalPacketID, protocol.ServerID, info.OriginalSender, nil)
		return false
	}
	sender.writer.SendAck(info.OriginalPacketID, protocol.ServerID, info.OriginalSender, []string{errPeerMismatch})
	return false
}

// clearInFlightForDepartedClient implements §4.6's "clear in-flight on
// client-exit": entries where the departing client was the sender are
// silently discarded; entries where it was the receiver notify the original
// sender (if still connected) with the fixed disconnect error before being
// discarded.
func (e *Engine) clearInFlightForDepartedClient(departed uint8) {
	_, asReceiver := e.inflight.ClearForDepartedClient(departed)
	for _, info := range asReceiver {
		sender, ok := e.roster.get(info.OriginalSender)
		if !ok {
			continue
		}
		sender.writer.SendAck(info.OriginalPacketID, protocol.ServerID, info.OriginalSender, []string{errReceiverDisconnected})
	}
}
