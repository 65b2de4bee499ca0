// Package wire implements the binary envelope format exchanged between peers.
// Transports carry opaque frames; everything above the adapter boundary speaks
// in envelopes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Envelope kinds.
const (
	KindData      byte = 0x01
	KindAck       byte = 0x02
	KindHeartbeat byte = 0x03
	KindAdvert    byte = 0x04
)

const (
	headerSize    = 1 + 8 // kind + created-at millis
	maxFieldLen   = 1024
	maxPayloadLen = 64 * 1024
)

var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrFieldTooLong    = errors.New("field exceeds maximum length")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum length")
	ErrUnknownKind     = errors.New("unknown envelope kind")
)

// Envelope is a single wire frame. For acks, MessageID references the
// original data message. CreatedAtMillis is the sender's clock; receivers
// order by (MessageID, CreatedAtMillis), never by arrival order.
type Envelope struct {
	Kind            byte
	MessageID       string
	SenderID        string
	RecipientID     string
	Scope           string
	CreatedAtMillis int64
	Payload         []byte
}

// Encode serializes the envelope. Layout, little endian throughout:
//
//	kind(1) createdAt(8) | id(len16+bytes) sender(len16+bytes)
//	recipient(len16+bytes) scope(len16+bytes) | payload(len32+bytes)
func (e *Envelope) Encode() ([]byte, error) {
	switch e.Kind {
	case KindData, KindAck, KindHeartbeat, KindAdvert:
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, e.Kind)
	}
	for _, f := range []string{e.MessageID, e.SenderID, e.RecipientID, e.Scope} {
		if len(f) > maxFieldLen {
			return nil, ErrFieldTooLong
		}
	}
	if len(e.Payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(e.Payload))
	}

	size := headerSize + 4*2 + len(e.MessageID) + len(e.SenderID) +
		len(e.RecipientID) + len(e.Scope) + 4 + len(e.Payload)
	buf := make([]byte, 0, size)

	buf = append(buf, e.Kind)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.CreatedAtMillis))
	for _, f := range []string{e.MessageID, e.SenderID, e.RecipientID, e.Scope} {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Payload)))
	buf = append(buf, e.Payload...)
	return buf, nil
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	env := &Envelope{Kind: data[0]}
	switch env.Kind {
	case KindData, KindAck, KindHeartbeat, KindAdvert:
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, env.Kind)
	}
	env.CreatedAtMillis = int64(binary.LittleEndian.Uint64(data[1:9]))
	off := headerSize

	readString := func() (string, error) {
		if len(data) < off+2 {
			return "", ErrFrameTooShort
		}
		n := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if n > maxFieldLen {
			return "", ErrFieldTooLong
		}
		if len(data) < off+n {
			return "", ErrFrameTooShort
		}
		s := string(data[off : off+n])
		off += n
		return s, nil
	}

	var err error
	if env.MessageID, err = readString(); err != nil {
		return nil, err
	}
	if env.SenderID, err = readString(); err != nil {
		return nil, err
	}
	if env.RecipientID, err = readString(); err != nil {
		return nil, err
	}
	if env.Scope, err = readString(); err != nil {
		return nil, err
	}

	if len(data) < off+4 {
		return nil, ErrFrameTooShort
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if n > maxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	if len(data) < off+n {
		return nil, ErrFrameTooShort
	}
	if n > 0 {
		env.Payload = make([]byte, n)
		copy(env.Payload, data[off:off+n])
	}
	return env, nil
}
