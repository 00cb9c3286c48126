package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/registry"
)

// Fixed payload layout sizes
const (
	InitializeSize   = 34
	PingPongSize     = 68
	VariableInfoSize = 8
	VariableSize     = 12
	ResultDataSize   = 25

	versionField   = 32
	pingPongField  = 64
	pingPongLayout = "02.01.2006 15:04:05.000"
)

// Payload is the decoded body of a packet
type Payload interface {
	// Type returns the packet type carrying the payload
	Type() Type
	// AppendTo appends the wire form to b
	AppendTo(b []byte) []byte
	// Decode reads the payload from data
	Decode(data []byte) error
}

func shortPayload(t Type, got, want int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s payload of %d bytes, need %d", errors.ErrShortPayload, t, got, want),
		"Protocol", "Decode", "check "+t.String()+" size")
}

// appendText appends s NUL padded or truncated to n bytes
func appendText(b []byte, s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	b = append(b, s...)
	for i := len(s); i < n; i++ {
		b = append(b, 0)
	}
	return b
}

// text returns the field up to the first NUL
func text(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// Initialize opens a session and selects what the peer wants replicated
type Initialize struct {
	Version             string
	SubscribeVariables  bool
	SubscribeResultData bool
}

// Type implements Payload
func (*Initialize) Type() Type { return TypeInitialize }

// AppendTo implements Payload
func (p *Initialize) AppendTo(b []byte) []byte {
	b = appendText(b, p.Version, versionField)
	b = appendBool(b, p.SubscribeVariables)
	return appendBool(b, p.SubscribeResultData)
}

// Decode implements Payload
func (p *Initialize) Decode(data []byte) error {
	if len(data) < InitializeSize {
		return shortPayload(TypeInitialize, len(data), InitializeSize)
	}
	p.Version = text(data[:versionField])
	p.SubscribeVariables = data[versionField] != 0
	p.SubscribeResultData = data[versionField+1] != 0
	return nil
}

// PingPong bounces between the peers, one lower each hop, until the counter is zero
type PingPong struct {
	Counter uint32
	Text    string
}

// NewPingPong returns a ping pong stamped with t
func NewPingPong(counter uint32, t time.Time) *PingPong {
	return &PingPong{Counter: counter, Text: t.Format(pingPongLayout)}
}

// Type implements Payload
func (*PingPong) Type() Type { return TypePingPong }

// AppendTo implements Payload
func (p *PingPong) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, p.Counter)
	return appendText(b, p.Text, pingPongField)
}

// Decode implements Payload
func (p *PingPong) Decode(data []byte) error {
	if len(data) < PingPongSize {
		return shortPayload(TypePingPong, len(data), PingPongSize)
	}
	p.Counter = binary.LittleEndian.Uint32(data[:4])
	p.Text = text(data[4:PingPongSize])
	return nil
}

// Time parses the timestamp text
func (p *PingPong) Time() (time.Time, error) {
	return time.ParseInLocation(pingPongLayout, p.Text, time.Local)
}

// VariableInfo announces a variable by its definition string
type VariableInfo struct {
	ID         registry.ID
	Definition string
}

// Type implements Payload
func (*VariableInfo) Type() Type { return TypeVariableInfo }

// AppendTo implements Payload
func (p *VariableInfo) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(p.ID))
	return append(b, p.Definition...)
}

// Decode implements Payload
func (p *VariableInfo) Decode(data []byte) error {
	if len(data) < VariableInfoSize {
		return shortPayload(TypeVariableInfo, len(data), VariableInfoSize)
	}
	p.ID = registry.ID(binary.LittleEndian.Uint64(data[:8]))
	p.Definition = string(data[8:])
	return nil
}

// Variable carries the current value and flags of a variable
type Variable struct {
	ID    registry.ID
	Flags uint32
	Value string
}

// Type implements Payload
func (*Variable) Type() Type { return TypeVariable }

// AppendTo implements Payload
func (p *Variable) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(p.ID))
	b = binary.LittleEndian.AppendUint32(b, p.Flags)
	return append(b, p.Value...)
}

// Decode implements Payload
func (p *Variable) Decode(data []byte) error {
	if len(data) < VariableSize {
		return shortPayload(TypeVariable, len(data), VariableSize)
	}
	p.ID = registry.ID(binary.LittleEndian.Uint64(data[:8]))
	p.Flags = binary.LittleEndian.Uint32(data[8:12])
	p.Value = string(data[12:])
	return nil
}

// ResultKind selects the meaning of a ResultData payload
type ResultKind uint8

// Result data kinds
const (
	// ResultInfo carries the definition string
	ResultInfo ResultKind = iota
	// ResultAccess advertises the access range
	ResultAccess
	// ResultRequest asks for the blocks of the range
	ResultRequest
	// ResultData carries the raw blocks of the range
	ResultData
)

func (k ResultKind) String() string {
	switch k {
	case ResultInfo:
		return "info"
	case ResultAccess:
		return "access"
	case ResultRequest:
		return "request"
	case ResultData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Result is the payload of a ResultData packet
type Result struct {
	Kind  ResultKind
	ID    registry.ID
	Start int64
	Stop  int64
	Data  []byte
}

// Type implements Payload
func (*Result) Type() Type { return TypeResultData }

// AppendTo implements Payload
func (p *Result) AppendTo(b []byte) []byte {
	b = append(b, byte(p.Kind))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.ID))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Start))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Stop))
	return append(b, p.Data...)
}

// Decode implements Payload. Data aliases the trailing section of data.
func (p *Result) Decode(data []byte) error {
	if len(data) < ResultDataSize {
		return shortPayload(TypeResultData, len(data), ResultDataSize)
	}
	p.Kind = ResultKind(data[0])
	if p.Kind > ResultData {
		return errors.WrapInvalid(
			fmt.Errorf("%w: result kind %d", errors.ErrProtocol, data[0]),
			"Protocol", "Decode", "check result kind")
	}
	p.ID = registry.ID(binary.LittleEndian.Uint64(data[1:9]))
	p.Start = int64(binary.LittleEndian.Uint64(data[9:17]))
	p.Stop = int64(binary.LittleEndian.Uint64(data[17:25]))
	p.Data = nil
	if len(data) > ResultDataSize {
		p.Data = data[ResultDataSize:]
	}
	return nil
}

// NewPayload returns an empty payload for t
func NewPayload(t Type) (Payload, error) {
	switch t {
	case TypeInitialize:
		return &Initialize{}, nil
	case TypePingPong:
		return &PingPong{}, nil
	case TypeVariableInfo:
		return &VariableInfo{}, nil
	case TypeVariable:
		return &Variable{}, nil
	case TypeResultData:
		return &Result{}, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d", errors.ErrUnknownPacket, uint8(t)),
			"Protocol", "NewPayload", "select type")
	}
}

// Decode decodes the payload of a packet of type t
func Decode(t Type, data []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := p.Decode(data); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode returns the packet of p with the given sequence number, header included
func Encode(p Payload, sequence uint32) []byte {
	b := make([]byte, HeaderSize, HeaderSize+PingPongSize)
	b = p.AppendTo(b)
	h := Header{Type: p.Type(), Size: uint32(len(b) - HeaderSize), Sequence: sequence}
	h.AppendTo(b[:0])
	return b
}
