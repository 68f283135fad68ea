// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/chat-relay/internal/correlation"
	"github.com/nishisan-dev/chat-relay/internal/heartbeat"
	"github.com/nishisan-dev/chat-relay/internal/protocol"
)

// fakeServer runs a minimal single-shot protocol peer over a net.Pipe side,
// enough to drive the client engine's handshake and per-kind dispatch
// without the real server engine.
type fakeServer struct {
	reader *protocol.StreamReader
	writer *protocol.StreamWriter
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{
		reader: protocol.NewStreamReader(conn, 20*time.Millisecond),
		writer: protocol.NewStreamWriter(conn, &protocol.IDAllocator{}),
	}
}

func dialFakePair(t *testing.T) (net.Conn, *fakeServer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	return clientSide, newFakeServer(serverSide)
}

// handshake reads the client's CONNECT and replies with an ACK assigning id.
func (s *fakeServer) handshake(t *testing.T, id uint8) {
	t.Helper()
	pkt, err := s.reader.ReadOne()
	if err != nil {
		t.Fatalf("reading connect: %v", err)
	}
	if pkt.Kind != protocol.KindConnect {
		t.Fatalf("expected CONNECT, got %s", pkt.Kind)
	}
	if _, err := s.writer.SendAck(pkt.ID, protocol.ServerID, id, nil); err != nil {
		t.Fatalf("sending connect ack: %v", err)
	}
}

func connectOverPipe(t *testing.T) (*Engine, *fakeServer) {
	t.Helper()
	// net.Dial can't target a net.Pipe, so Connect's own dial can't be used
	// directly; build the engine by hand over the piped conn instead,
	// exercising the same handshake path Connect would.
	clientConn, server := dialFakePair(t)

	opts := Options{PollInterval: 20 * time.Millisecond, HeartbeatPeriod: time.Hour}
	opts = opts.withDefaults()

	e := &Engine{
		conn:       clientConn,
		reader:     protocol.NewStreamReader(clientConn, opts.PollInterval),
		writer:     protocol.NewStreamWriter(clientConn, &protocol.IDAllocator{}),
		pending:    correlation.NewClientTable(),
		hb:         heartbeat.NewMonitor(3),
		stopBeat:   make(chan struct{}),
		beatPeriod: opts.HeartbeatPeriod,
		events:     make(chan Event, 64),
		logger:     opts.Logger,
		done:       make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		server.handshake(t, 2)
		close(done)
	}()

	connectID, _, err := e.writer.SendConnect("alice")
	if err != nil {
		t.Fatalf("send connect: %v", err)
	}
	ack, err := e.reader.ReadOne()
	if err != nil {
		t.Fatalf("read connect ack: %v", err)
	}
	if ack.ID != connectID || ack.Kind != protocol.KindAck {
		t.Fatalf("unexpected connect ack: %+v", ack)
	}
	e.selfID = ack.ReceiverID
	<-done

	go e.receiveLoop()

	return e, server
}

func TestConnectHandshakeAssignsSelfID(t *testing.T) {
	e, _ := connectOverPipe(t)
	defer e.Close()
	if e.SelfID() != 2 {
		t.Fatalf("expected self id 2, got %d", e.SelfID())
	}
}

func TestGetTimeDispatchesEvent(t *testing.T) {
	e, server := connectOverPipe(t)
	defer e.Close()

	// net.Pipe writes block until the peer reads, so the request is issued
	// from its own goroutine while the fake server reads it.
	reqErr := make(chan error, 1)
	go func() { reqErr <- e.GetTime() }()
	pkt, err := server.reader.ReadOne()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-reqErr; err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	if pkt.Kind != protocol.KindReqTime {
		t.Fatalf("expected REQTIME, got %s", pkt.Kind)
	}
	server.writer.SendAck(pkt.ID, protocol.ServerID, e.SelfID(), []string{"1700000000"})

	select {
	case ev := <-e.events:
		if ev.Kind != EventTime || ev.UnixTime != 1700000000 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventTime")
	}
}

func TestForwardedMessageIsSurfacedAndAcked(t *testing.T) {
	e, server := connectOverPipe(t)
	defer e.Close()

	fwdPkt := &protocol.Packet{SenderID: 3, Fields: []string{"hi"}}
	fwdID, _, err := server.writer.SendForward(fwdPkt, e.SelfID())
	if err != nil {
		t.Fatalf("server forward: %v", err)
	}

	select {
	case ev := <-e.events:
		if ev.Kind != EventMessage || ev.From != 3 || ev.Text != "hi" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventMessage")
	}

	ack, err := server.reader.ReadOne()
	if err != nil {
		t.Fatalf("server read ack: %v", err)
	}
	if ack.Kind != protocol.KindAck || ack.ID != fwdID {
		t.Fatalf("expected ack for fwd id %d, got %+v", fwdID, ack)
	}
	if ack.ReceiverID != 3 {
		t.Fatalf("expected fwd ack addressed to original sender 3, got receiver %d", ack.ReceiverID)
	}
}

func TestSendMessageSuccessAndFailureResults(t *testing.T) {
	e, server := connectOverPipe(t)
	defer e.Close()

	// net.Pipe writes block until the peer reads, so each request is issued
	// from its own goroutine while the fake server reads it.
	reqErr := make(chan error, 1)
	go func() { reqErr <- e.SendMessage(5, "hello") }()
	pkt, err := server.reader.ReadOne()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-reqErr; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	server.writer.SendAck(pkt.ID, protocol.ServerID, e.SelfID(), nil)

	select {
	case ev := <-e.events:
		if ev.Kind != EventSendResult || !ev.Success {
			t.Fatalf("expected success result, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for success result")
	}

	go func() { reqErr <- e.SendMessage(99, "hello") }()
	pkt, err = server.reader.ReadOne()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-reqErr; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	server.writer.SendAck(pkt.ID, protocol.ServerID, e.SelfID(), []string{"The receiver is not found."})

	select {
	case ev := <-e.events:
		if ev.Kind != EventSendResult || ev.Success || ev.Reason != "The receiver is not found." {
			t.Fatalf("expected failure result, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure result")
	}
}

func TestUnknownAckIsNoop(t *testing.T) {
	e, server := connectOverPipe(t)
	defer e.Close()

	server.writer.SendAck(9999, protocol.ServerID, e.SelfID(), nil)

	select {
	case ev := <-e.events:
		t.Fatalf("expected no event for unknown ack, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
