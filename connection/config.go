package connection

import (
	"fmt"
	"time"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/protocol"
)

// Defaults
const (
	DefaultServerReadWait = 300 * time.Millisecond
	DefaultClientReadWait = 100 * time.Millisecond
	DefaultPingCount      = 3
	DefaultOutboxSize     = 1024
)

// Config holds the tunables of a connection
type Config struct {
	// ReadWait bounds the wait for incoming bytes in one Process call
	ReadWait time.Duration `json:"read_wait"`
	// PingCount is the counter of the ping a client sends first, 0 skips it
	PingCount uint32 `json:"ping_count"`
	// MaxPayload bounds the payload size of incoming packets
	MaxPayload uint32 `json:"max_payload"`
	// ChunkSize bounds the bytes written per Process call
	ChunkSize int `json:"chunk_size"`
	// OutboxSize is the number of packets queued before the oldest is dropped
	OutboxSize int `json:"outbox_size"`
	// StayConnected keeps a client open once its ping exchange ended
	StayConnected bool `json:"stay_connected"`
}

// DefaultConfig returns the defaults of role
func DefaultConfig(role Role) Config {
	c := Config{
		ReadWait:   DefaultServerReadWait,
		PingCount:  DefaultPingCount,
		MaxPayload: protocol.DefaultMaxPayloadSize,
		ChunkSize:  protocol.DefaultChunkSize,
		OutboxSize: DefaultOutboxSize,
	}
	if role == RoleClient {
		c.ReadWait = DefaultClientReadWait
	}
	return c
}

// Validate checks the values are usable
func (c Config) Validate() error {
	if c.ReadWait <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: read wait %s", errors.ErrInvalidConfig, c.ReadWait),
			"Config", "Validate", "check read wait")
	}
	if c.ChunkSize <= 0 || c.OutboxSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: chunk %d, outbox %d", errors.ErrInvalidConfig, c.ChunkSize, c.OutboxSize),
			"Config", "Validate", "check sizes")
	}
	return nil
}
