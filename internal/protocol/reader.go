// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	// DefaultScratchSize is the per-read buffer cap named in §6.
	DefaultScratchSize = 4096
	// DefaultPollInterval bounds how long ReadOne blocks before retrying
	// readiness, per §4.2.
	DefaultPollInterval = 200 * time.Millisecond
)

// StreamReader pulls bytes from a connection, buffers a partial frame, and
// hands back whole packets one at a time. It owns a scratch read buffer, a
// carry-over buffer for partial frames, and a queue of parsed-but-undelivered
// packets. It is safe under one concurrent caller; a mutex protects the
// queue and carry-over buffer against the rare case of concurrent access.
type StreamReader struct {
	conn         net.Conn
	pollInterval time.Duration

	mu      sync.Mutex
	scratch [DefaultScratchSize]byte
	carry   []byte
	queue   []*Packet
}

// NewStreamReader constructs a StreamReader over conn. pollInterval bounds
// how long a single ReadOne call blocks waiting for readability before
// checking the queue again; zero selects DefaultPollInterval.
func NewStreamReader(conn net.Conn, pollInterval time.Duration) *StreamReader {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &StreamReader{conn: conn, pollInterval: pollInterval}
}

// ReadOne returns the next packet, blocking in poll-interval increments
// until one is available or the connection ends. See §4.2 for the
// algorithm.
func (r *StreamReader) ReadOne() (*Packet, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			p := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// fill waits up to pollInterval for readability, reads what is available,
// and drains as many complete frames as the carry-over buffer now holds.
func (r *StreamReader) fill() error {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.pollInterval))

	n, err := r.conn.Read(r.scratch[:])

	if n > 0 {
		r.mu.Lock()
		r.carry = append(r.carry, r.scratch[:n]...)
		for {
			frameLen, complete := ValidateFrame(r.carry)
			if !complete {
				break
			}
			pkt, perr := ParseFrame(r.carry[:frameLen])
			if perr != nil {
				// A frame ValidateFrame called complete must parse; this
				// would be a codec invariant violation. Drop the byte
				// stream entirely rather than risk desyncing on bad input.
				r.mu.Unlock()
				return ErrTruncated
			}
			r.queue = append(r.queue, pkt)
			r.carry = r.carry[frameLen:]
		}
		r.mu.Unlock()
	}

	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Poll interval elapsed; any bytes read were already queued above.
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		// A clean close by the peer, or a local close (e.g. after a
		// heartbeat timeout), both end the connection as closed.
		return ErrPeerClosed
	}
	return ErrSocketError
}
