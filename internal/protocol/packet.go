// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implements the chat relay's binary wire protocol: a
// length-delimited, typed, addressed frame format and the streaming codec
// that serializes and parses it over TCP.
package protocol

import (
	"encoding/binary"
)

// Kind is the 8-bit packet type tag carried in every frame.
type Kind uint8

// The eight packet kinds, bit-exact with the wire format.
const (
	KindHeartbeat  Kind = 0
	KindConnect    Kind = 1
	KindDisconnect Kind = 2
	KindReqTime    Kind = 3
	KindReqHost    Kind = 4
	KindReqClients Kind = 5
	KindReqSend    Kind = 6
	KindAck        Kind = 7
	KindForward    Kind = 8
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindConnect:
		return "CONNECT"
	case KindDisconnect:
		return "DISCONNECT"
	case KindReqTime:
		return "REQTIME"
	case KindReqHost:
		return "REQHOST"
	case KindReqClients:
		return "REQCLILIST"
	case KindReqSend:
		return "REQSEND"
	case KindAck:
		return "ACK"
	case KindForward:
		return "FWD"
	default:
		return "UNKNOWN"
	}
}

// Endpoint identifiers, per §3 of the spec.
const (
	ServerID      uint8 = 0
	MinClientID   uint8 = 1
	MaxClientID   uint8 = 254
	ReservedID    uint8 = 255
	MaxClientsCap       = 254
)

const (
	headerLen    = 6 // id(2) + kind(1) + sender(1) + receiver(1) + nfields(1)
	maxFieldLen  = 255
	maxFieldsLen = 255
)

// Packet is the single unit exchanged on the wire.
type Packet struct {
	ID         uint16
	Kind       Kind
	SenderID   uint8
	ReceiverID uint8
	Fields     []string
}

// SerializedSize returns the exact number of bytes Serialize would produce,
// without doing the serialization.
func (p *Packet) SerializedSize() int {
	n := headerLen
	for _, f := range p.Fields {
		n += 1 + len(f)
	}
	return n
}

// Serialize encodes p in the exact wire order described in §6: packet id
// (2 bytes LE), kind, sender id, receiver id, field count, then each field
// as a length byte followed by its raw bytes.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Fields) > maxFieldsLen {
		return nil, ErrEncodingTooLarge
	}
	for _, f := range p.Fields {
		if len(f) > maxFieldLen {
			return nil, ErrEncodingTooLarge
		}
	}

	buf := make([]byte, p.SerializedSize())
	binary.LittleEndian.PutUint16(buf[0:2], p.ID)
	buf[2] = byte(p.Kind)
	buf[3] = p.SenderID
	buf[4] = p.ReceiverID
	buf[5] = byte(len(p.Fields))

	off := headerLen
	for _, f := range p.Fields {
		buf[off] = byte(len(f))
		off++
		copy(buf[off:], f)
		off += len(f)
	}
	return buf, nil
}

// ValidateFrame inspects a byte prefix and reports whether it contains a
// complete frame. It never consumes or mutates buf. If the first frame is
// complete, it returns its exact length and true. Otherwise it returns
// (0, false) — "not yet enough bytes" — which is also returned for an empty
// buffer. It does not distinguish "truncated" from "never going to fit";
// ParseFrame is the place invalid-but-complete-looking frames are rejected.
func ValidateFrame(buf []byte) (frameLen int, complete bool) {
	if len(buf) < headerLen {
		return 0, false
	}
	nFields := int(buf[5])
	off := headerLen
	for i := 0; i < nFields; i++ {
		if off >= len(buf) {
			return 0, false
		}
		fl := int(buf[off])
		off++
		if off+fl > len(buf) {
			return 0, false
		}
		off += fl
	}
	return off, true
}

// ParseFrame decodes exactly one packet from buf. buf must hold exactly one
// complete frame, e.g. the prefix returned by ValidateFrame. It fails with
// ErrTruncated if buf is shorter than the minimum header or a declared field
// length overruns the buffer.
func ParseFrame(buf []byte) (*Packet, error) {
	if len(buf) < headerLen {
		return nil, ErrTruncated
	}
	p := &Packet{
		ID:         binary.LittleEndian.Uint16(buf[0:2]),
		Kind:       Kind(buf[2]),
		SenderID:   buf[3],
		ReceiverID: buf[4],
	}
	nFields := int(buf[5])
	off := headerLen
	fields := make([]string, 0, nFields)
	for i := 0; i < nFields; i++ {
		if off >= len(buf) {
			return nil, ErrTruncated
		}
		fl := int(buf[off])
		off++
		if off+fl > len(buf) {
			return nil, ErrTruncated
		}
		fields = append(fields, string(buf[off:off+fl]))
		off += fl
	}
	p.Fields = fields
	return p, nil
}
