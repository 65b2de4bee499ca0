package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	advertMinSize = 1 + 2 // capabilities + name length

	maxAdvertNameLen = 64
)

var (
	ErrAdvertTooShort = errors.New("advert payload too short")
	ErrAdvertNameLen  = errors.New("advert name too long")
)

// Advert is the payload of a KindAdvert envelope: the sender announces its
// identity and transport capabilities. The envelope's SenderID carries the
// node id and Scope carries the family id.
type Advert struct {
	Capabilities byte
	DisplayName  string
}

// BuildAdvert serializes an advert payload: capabilities(1) name(len16+bytes).
func BuildAdvert(a Advert) ([]byte, error) {
	if len(a.DisplayName) > maxAdvertNameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrAdvertNameLen, len(a.DisplayName))
	}
	buf := make([]byte, 0, advertMinSize+len(a.DisplayName))
	buf = append(buf, a.Capabilities)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(a.DisplayName)))
	buf = append(buf, a.DisplayName...)
	return buf, nil
}

// ParseAdvert parses an advert payload produced by BuildAdvert.
func ParseAdvert(data []byte) (*Advert, error) {
	if len(data) < advertMinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAdvertTooShort, len(data))
	}
	a := &Advert{Capabilities: data[0]}
	n := int(binary.LittleEndian.Uint16(data[1:3]))
	if n > maxAdvertNameLen {
		return nil, ErrAdvertNameLen
	}
	if len(data) < advertMinSize+n {
		return nil, ErrAdvertTooShort
	}
	a.DisplayName = string(data[advertMinSize : advertMinSize+n])
	return a, nil
}
