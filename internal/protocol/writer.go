// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"net"
	"sync"
)

// StreamWriter serializes packets and writes them to a connection one at a
// time. A mutex serializes writes so two goroutines never interleave the
// bytes of two different frames on the same socket.
type StreamWriter struct {
	conn net.Conn
	ids  *IDAllocator

	mu sync.Mutex
}

// NewStreamWriter constructs a StreamWriter over conn, allocating packet ids
// from ids.
func NewStreamWriter(conn net.Conn, ids *IDAllocator) *StreamWriter {
	return &StreamWriter{conn: conn, ids: ids}
}

// send serializes p and writes it in full, returning bytes written. It does
// not reassign p.ID — callers that need a freshly allocated id (everything
// except Ack, which reuses the id it acknowledges) must set it before
// calling send.
func (w *StreamWriter) send(p *Packet) (n int, err error) {
	buf, err := p.Serialize()
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	written := 0
	for written < len(buf) {
		wn, werr := w.conn.Write(buf[written:])
		written += wn
		if werr != nil {
			if written == 0 {
				return 0, ErrSocketError
			}
			return written, ErrSocketError
		}
	}
	return written, nil
}

// SendConnect writes a CONNECT frame naming the client, sender/receiver both
// server-addressed per §6.
func (w *StreamWriter) SendConnect(name string) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindConnect, SenderID: ServerID, ReceiverID: ServerID, Fields: []string{name}})
	return
}

// SendDisconnect writes a DISCONNECT frame with an empty payload.
func (w *StreamWriter) SendDisconnect(sender, receiver uint8) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindDisconnect, SenderID: sender, ReceiverID: receiver})
	return
}

// SendReqTime writes a REQTIME frame.
func (w *StreamWriter) SendReqTime(sender uint8) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindReqTime, SenderID: sender, ReceiverID: ServerID})
	return
}

// SendReqHost writes a REQHOST frame.
func (w *StreamWriter) SendReqHost(sender uint8) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindReqHost, SenderID: sender, ReceiverID: ServerID})
	return
}

// SendReqClients writes a REQCLILIST frame.
func (w *StreamWriter) SendReqClients(sender uint8) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindReqClients, SenderID: sender, ReceiverID: ServerID})
	return
}

// SendReqSend writes a REQSEND frame carrying the user's text to receiver.
func (w *StreamWriter) SendReqSend(sender, receiver uint8, text string) (id uint16, n int, err error) {
	id = w.ids.Next()
	n, err = w.send(&Packet{ID: id, Kind: KindReqSend, SenderID: sender, ReceiverID: receiver, Fields: []string{text}})
	return
}

// SendAck writes an ACK frame with the given id (the id being acknowledged,
// NOT a freshly allocated one — ACKs always reference the exchange they
// close).
func (w *StreamWriter) SendAck(id uint16, sender, receiver uint8, fields []string) (n int, err error) {
	return w.send(&Packet{ID: id, Kind: KindAck, SenderID: sender, ReceiverID: receiver, Fields: fields})
}

// SendForward retypes an existing REQSEND packet as FWD and reassigns its id
// from the counter, per §4.3: the original packet id is preserved only in
// the caller's in-flight record, not on the wire.
func (w *StreamWriter) SendForward(original *Packet, receiver uint8) (newID uint16, n int, err error) {
	newID = w.ids.Next()
	n, err = w.send(&Packet{ID: newID, Kind: KindForward, SenderID: original.SenderID, ReceiverID: receiver, Fields: original.Fields})
	return
}

// SendHeartbeat writes a HEARTBEAT frame. Heartbeats are not correlated, so
// no id bookkeeping is needed by the caller.
func (w *StreamWriter) SendHeartbeat(sender, receiver uint8) (n int, err error) {
	id := w.ids.Next()
	return w.send(&Packet{ID: id, Kind: KindHeartbeat, SenderID: sender, ReceiverID: receiver})
}
