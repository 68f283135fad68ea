// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements the chat relay's server engine: the accept
// loop, per-client receive loop, and the REQSEND relay state machine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/chat-relay/internal/config"
	"github.com/nishisan-dev/chat-relay/internal/correlation"
	"github.com/nishisan-dev/chat-relay/internal/heartbeat"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
	"github.com/nishisan-dev/chat-relay/internal/schedule"
)

// Engine is one running relay server: a listener, a roster of connected
// clients, the server-side in-flight table bridging relay ACK hops, and the
// fixed housekeeping jobs.
type Engine struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	listener net.Listener
	ids      *protocol.IDAllocator
	roster   *roster
	inflight *correlation.ServerTable

	running   bool
	runningMu sync.Mutex

	wg  sync.WaitGroup
	sch *schedule.Scheduler

	ready chan struct{}
}

// New constructs an Engine from cfg. Call Run to start listening.
func New(cfg *config.ServerConfig, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		ids:      &protocol.IDAllocator{},
		roster:   newRoster(),
		inflight: correlation.NewServerTable(),
		sch:      schedule.New(logger),
		ready:    make(chan struct{}),
	}
}

// Addr blocks until the listener is bound, then returns its address. Mainly
// useful in tests that bind to ":0" and need the assigned port.
func (e *Engine) Addr() net.Addr {
	<-e.ready
	return e.listener.Addr()
}

// Run binds the listener, starts the accept loop and housekeeping jobs, and
// blocks until ctx is cancelled, at which point it performs an orderly
// shutdown per §4.6.
func (e *Engine) Run(ctx context.Context) error {
	// Go's net package already sets SO_REUSEADDR on the listening socket it
	// creates, satisfying §4.6's address-reuse requirement without any
	// extra Control hook.
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", e.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", e.cfg.Server.Listen, err)
	}
	e.listener = ln
	e.setRunning(true)
	close(e.ready)

	e.sch.AddEvery(e.cfg.Housekeeping.HostStatsInterval, schedule.HostStatsJob(e.logger))
	e.sch.AddEvery(e.cfg.Housekeeping.RosterSnapshotInterval, schedule.RosterSnapshotJob(e.logger, e.rosterSnapshot))
	e.sch.Start()

	e.logger.Info("server listening", "addr", e.cfg.Server.Listen, "name", e.cfg.Server.Name)

	acceptDone := make(chan struct{})
	go func() {
		e.acceptLoop()
		close(acceptDone)
	}()

	<-ctx.Done()
	e.shutdown()
	<-acceptDone
	return nil
}

func (e *Engine) setRunning(v bool) {
	e.runningMu.Lock()
	e.running = v
	e.runningMu.Unlock()
}

func (e *Engine) isRunning() bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	return e.running
}

func (e *Engine) acceptLoop() {
	for e.isRunning() {
		conn, err := e.listener.Accept()
		if err != nil {
			if !e.isRunning() {
				return
			}
			e.logger.Warn("accept error", "error", err)
			continue
		}
		if !e.isRunning() {
			conn.Close()
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			// net.TCPConn only exposes a single keepalive period, not
			// separate idle/interval/count knobs; 60s approximates the
			// spec's idle setting, which is the dominant parameter for
			// detecting a half-open peer.
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(60 * time.Second)
		}

		e.wg.Add(1)
		go e.handleNewConnection(conn)
	}
}

func (e *Engine) handleNewConnection(conn net.Conn) {
	defer e.wg.Done()

	reader := protocol.NewStreamReader(conn, e.cfg.PollInterval)
	writer := protocol.NewStreamWriter(conn, e.ids)

	pkt, err := reader.ReadOne()
	if err != nil {
		conn.Close()
		return
	}
	if pkt.Kind != protocol.KindConnect || pkt.ReceiverID != protocol.ServerID || len(pkt.Fields) != 1 {
		e.logger.Warn("rejecting malformed handshake", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}

	if e.roster.count() >= e.cfg.MaxClients {
		e.logger.Warn("rejecting connection past configured max_clients", "remote", conn.RemoteAddr(), "max_clients", e.cfg.MaxClients)
		conn.Close()
		return
	}

	entry := &rosterEntry{
		name:     pkt.Fields[0],
		addr:     conn.RemoteAddr().String(),
		conn:     conn,
		reader:   reader,
		writer:   writer,
		hb:       heartbeat.NewMonitor(e.cfg.Heartbeat.MissThreshold),
		stopBeat: make(chan struct{}),
	}
	id, err := e.roster.assignID(entry)
	if err != nil {
		conn.Close()
		return
	}

	if _, err := writer.SendAck(pkt.ID, protocol.ServerID, id, nil); err != nil {
		e.roster.remove(id)
		conn.Close()
		return
	}

	e.logger.Info("client connected", "id", id, "name", entry.name, "addr", entry.addr)
	go heartbeat.RunTicker(e.cfg.Heartbeat.Interval, entry.stopBeat, func() {
		if entry.hb.Tick() {
			e.logger.Warn("client heartbeat timeout", "id", id)
			entry.conn.Close()
		}
	})

	e.clientSession(entry)
}

// shutdown implements §4.6: flip running false, close the listener (which
// unblocks Accept), disconnect every roster entry, and join all per-client
// tasks.
func (e *Engine) shutdown() {
	e.setRunning(false)
	e.listener.Close()

	for _, entry := range e.roster.snapshot() {
		id, _, err := entry.writer.SendDisconnect(protocol.ServerID, entry.id)
		if err == nil {
			e.inflight.Insert(id, correlation.PacketInfo{
				OriginalPacketID: id,
				OriginalSender:   protocol.ServerID,
				OriginalReceiver: entry.id,
				PendingKind:      protocol.KindDisconnect,
			})
		}
	}

	e.wg.Wait()
	e.sch.Stop()
}

func (e *Engine) rosterSnapshot() []schedule.RosterSnapshot {
	entries := e.roster.snapshot()
	out := make([]schedule.RosterSnapshot, 0, len(entries))
	for _, entry := range entries {
		out = append(out, schedule.RosterSnapshot{ID: entry.id, Name: entry.name, Addr: entry.addr})
	}
	return out
}
