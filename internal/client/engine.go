// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package client implements the chat relay's client engine: an asynchronous
// request API over the wire protocol, backed by a dedicated receive loop
// that dispatches inbound ACKs, relayed messages, and heartbeats.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nishisan-dev/chat-relay/internal/correlation"
	"github.com/nishisan-dev/chat-relay/internal/heartbeat"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
)

// Engine is one client's live connection to the relay server. Every request
// method writes its frame and records the awaited ACK kind, then returns
// immediately — there is no blocking wait on the caller's goroutine. Inbound
// traffic, including the ACKs those requests awaited, is handled entirely by
// the receive loop started by Connect.
type Engine struct {
	conn   net.Conn
	reader *protocol.StreamReader
	writer *protocol.StreamWriter
	ids    *protocol.IDAllocator

	pending *correlation.ClientTable
	selfID  uint8

	hb         *heartbeat.Monitor
	stopBeat   chan struct{}
	beatPeriod time.Duration

	events chan Event
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Options configures an Engine beyond its required address and name.
type Options struct {
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
	MissThreshold   int
	Logger          *slog.Logger
	EventBuffer     int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = protocol.DefaultPollInterval
	}
	if o.HeartbeatPeriod <= 0 {
		o.HeartbeatPeriod = heartbeat.DefaultInterval * time.Second
	}
	if o.MissThreshold <= 0 {
		o.MissThreshold = heartbeat.DefaultMissThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	return o
}

// Connect dials addr, performs the CONNECT/ACK handshake synchronously to
// learn the assigned endpoint id, then starts the receive loop and heartbeat
// tickers. The handshake is the one exception to "requests never block the
// caller": nothing else can happen on this connection until self id is
// known.
func Connect(addr, name string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	e := &Engine{
		conn:       conn,
		reader:     protocol.NewStreamReader(conn, opts.PollInterval),
		writer:     protocol.NewStreamWriter(conn, &protocol.IDAllocator{}),
		pending:    correlation.NewClientTable(),
		hb:         heartbeat.NewMonitor(opts.MissThreshold),
		stopBeat:   make(chan struct{}),
		beatPeriod: opts.HeartbeatPeriod,
		events:     make(chan Event, opts.EventBuffer),
		logger:     opts.Logger,
		done:       make(chan struct{}),
	}

	connectID, _, err := e.writer.SendConnect(name)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: sending connect: %w", err)
	}
	ack, err := e.reader.ReadOne()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: awaiting connect ack: %w", err)
	}
	if ack.Kind != protocol.KindAck || ack.ID != connectID {
		conn.Close()
		return nil, protocol.ErrInvalidHandshake
	}
	e.selfID = ack.ReceiverID

	go e.receiveLoop()
	go heartbeat.RunTicker(e.beatPeriod, e.stopBeat, e.sendHeartbeat)
	go heartbeat.RunTicker(e.beatPeriod, e.stopBeat, e.tickMissedHeartbeat)

	return e, nil
}

// SelfID returns the endpoint id assigned by the server during CONNECT.
func (e *Engine) SelfID() uint8 { return e.selfID }

// Events returns the channel the receive loop posts inbound notices to.
func (e *Engine) Events() <-chan Event { return e.events }

// Disconnect requests a clean teardown. The receive loop exits once the
// server's DISCONNECT ack arrives (or the connection drops first).
func (e *Engine) Disconnect() error {
	id, _, err := e.writer.SendDisconnect(e.selfID, protocol.ServerID)
	if err != nil {
		return err
	}
	return e.pending.Insert(id, protocol.KindDisconnect)
}

// GetTime asynchronously requests the server's current POSIX time.
func (e *Engine) GetTime() error {
	id, _, err := e.writer.SendReqTime(e.selfID)
	if err != nil {
		return err
	}
	return e.pending.Insert(id, protocol.KindReqTime)
}

// GetHost asynchronously requests the server's display name.
func (e *Engine) GetHost() error {
	id, _, err := e.writer.SendReqHost(e.selfID)
	if err != nil {
		return err
	}
	return e.pending.Insert(id, protocol.KindReqHost)
}

// GetClients asynchronously requests the current roster.
func (e *Engine) GetClients() error {
	id, _, err := e.writer.SendReqClients(e.selfID)
	if err != nil {
		return err
	}
	return e.pending.Insert(id, protocol.KindReqClients)
}

// SendMessage asynchronously relays text to receiverID via the server.
func (e *Engine) SendMessage(receiverID uint8, text string) error {
	id, _, err := e.writer.SendReqSend(e.selfID, receiverID, text)
	if err != nil {
		return err
	}
	return e.pending.Insert(id, protocol.KindReqSend)
}

// Close force-closes the connection without attempting a clean disconnect.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stopBeat)
		e.conn.Close()
	})
}

// Done reports when the receive loop has exited and the engine is fully
// torn down.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) sendHeartbeat() {
	if _, err := e.writer.SendHeartbeat(e.selfID, protocol.ServerID); err != nil {
		e.logger.Debug("heartbeat send failed", "error", err)
	}
}

func (e *Engine) tickMissedHeartbeat() {
	if e.hb.Tick() {
		e.logger.Warn("heartbeat threshold exceeded, closing connection")
		e.conn.Close()
	}
}

func (e *Engine) receiveLoop() {
	var exitErr error
	defer func() { e.teardown(exitErr) }()

	for {
		pkt, err := e.reader.ReadOne()
		if err != nil {
			exitErr = err
			return
		}
		if pkt.ReceiverID != e.selfID {
			continue
		}

		switch pkt.Kind {
		case protocol.KindDisconnect:
			e.writer.SendAck(pkt.ID, e.selfID, protocol.ServerID, nil)
			return

		case protocol.KindForward:
			e.events <- Event{Kind: EventMessage, From: pkt.SenderID, Text: firstField(pkt.Fields)}
			// Addressed to the FWD's sender (the relay peer the server will
			// bridge this ack back to), not the server — session.go's relay
			// bridge only completes the hop when the ack's sender/receiver
			// pair is the swap of the original FWD's.
			e.writer.SendAck(pkt.ID, e.selfID, pkt.SenderID, nil)

		case protocol.KindAck:
			kind, ok := e.pending.Take(pkt.ID)
			if !ok {
				continue
			}
			e.dispatchAck(kind, pkt)
			if kind == protocol.KindDisconnect {
				return
			}

		case protocol.KindHeartbeat:
			e.hb.Reset()
			e.writer.SendHeartbeat(e.selfID, pkt.SenderID)

		default:
			e.logger.Debug("unhandled packet kind", "kind", pkt.Kind.String())
		}
	}
}

func (e *Engine) dispatchAck(kind protocol.Kind, pkt *protocol.Packet) {
	switch kind {
	case protocol.KindReqTime:
		if len(pkt.Fields) != 1 {
			e.logger.Warn("unexpected payload arity for REQTIME ack", "fields", len(pkt.Fields))
			return
		}
		ts, err := strconv.ParseInt(pkt.Fields[0], 10, 64)
		if err != nil {
			e.logger.Warn("unparsable REQTIME payload", "value", pkt.Fields[0])
			return
		}
		e.events <- Event{Kind: EventTime, UnixTime: ts}

	case protocol.KindReqHost:
		if len(pkt.Fields) != 1 {
			e.logger.Warn("unexpected payload arity for REQHOST ack", "fields", len(pkt.Fields))
			return
		}
		e.events <- Event{Kind: EventHost, HostName: pkt.Fields[0]}

	case protocol.KindReqClients:
		roster := make([]RosterEntry, 0, len(pkt.Fields))
		for _, f := range pkt.Fields {
			entry, ok := parseRosterField(f)
			if !ok {
				e.logger.Warn("unparsable REQCLILIST field", "value", f)
				continue
			}
			roster = append(roster, entry)
		}
		e.events <- Event{Kind: EventRoster, Roster: roster}

	case protocol.KindReqSend:
		if len(pkt.Fields) == 0 {
			e.events <- Event{Kind: EventSendResult, Success: true}
			return
		}
		e.events <- Event{Kind: EventSendResult, Success: false, Reason: pkt.Fields[0]}

	default:
		e.logger.Warn("ack for unexpected awaited kind", "kind", kind.String())
	}
}

func (e *Engine) teardown(err error) {
	e.Close()
	select {
	case e.events <- Event{Kind: EventDisconnected, Err: err}:
	default:
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseRosterField parses one REQCLILIST field, "id\0name\0ip\0port\0".
func parseRosterField(f string) (RosterEntry, bool) {
	parts := strings.Split(f, "\x00")
	if len(parts) < 4 {
		return RosterEntry{}, false
	}
	id, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return RosterEntry{}, false
	}
	return RosterEntry{ID: uint8(id), Name: parts[1], IP: parts[2], Port: parts[3]}, true
}
