// Package protocol implements the GII wire format.
//
// Every packet is a 9 byte little endian header followed by a payload of the
// size the header announces. Payloads start with a fixed layout per packet type;
// text and block data follow in a trailing section bounded by the size.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/gii/errors"
)

// HeaderSize is the encoded size of a Header
const HeaderSize = 9

// DefaultMaxPayloadSize bounds the payload size of a packet unless configured otherwise
const DefaultMaxPayloadSize = 1 << 20

// Version is sent in Initialize packets
const Version = "GII 1.0"

// Type is the packet type
type Type uint8

// Packet types
const (
	TypeInitialize Type = iota
	TypePingPong
	TypeVariableInfo
	TypeVariable
	TypeResultData
	typeCount
)

var typeNames = [...]string{"initialize", "pingpong", "variable_info", "variable", "resultdata"}

func (t Type) String() string {
	if t >= typeCount {
		return fmt.Sprintf("type(%d)", uint8(t))
	}
	return typeNames[t]
}

// IsValid reports whether t is a known packet type
func (t Type) IsValid() bool { return t < typeCount }

// Header precedes every payload
type Header struct {
	Type     Type
	Size     uint32
	Sequence uint32
}

// Encode returns the wire form of the header
func (h Header) Encode() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// AppendTo appends the wire form of the header to b
func (h Header) AppendTo(b []byte) []byte {
	b = append(b, byte(h.Type))
	b = binary.LittleEndian.AppendUint32(b, h.Size)
	return binary.LittleEndian.AppendUint32(b, h.Sequence)
}

// Decode reads the header from data
func (h *Header) Decode(data []byte) error {
	if len(data) < HeaderSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: header of %d bytes", errors.ErrShortPayload, len(data)),
			"Protocol", "Header.Decode", "check size")
	}
	h.Type = Type(data[0])
	h.Size = binary.LittleEndian.Uint32(data[1:5])
	h.Sequence = binary.LittleEndian.Uint32(data[5:9])
	return nil
}

// Check validates the type and the payload size against maxPayload, 0 meaning
// DefaultMaxPayloadSize
func (h Header) Check(maxPayload uint32) error {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	if !h.Type.IsValid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d", errors.ErrUnknownPacket, uint8(h.Type)),
			"Protocol", "Header.Check", "check type")
	}
	if h.Size > maxPayload {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d > %d", errors.ErrPayloadTooLarge, h.Size, maxPayload),
			"Protocol", "Header.Check", "check size")
	}
	return nil
}
