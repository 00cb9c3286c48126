package connection

import "fmt"

// Role selects which side of the exchange a connection plays
type Role int

// Roles
const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is a step of the connection state machine
type State int

// States
const (
	StateNone State = iota
	StateHeaderRead
	StatePayloadRead
	StatePayloadProcess
	StateBufferWrite
	StateWaitForRead
	StateIdle
	StateDisconnect
	StateError
)

var stateNames = [...]string{
	"none", "header_read", "payload_read", "payload_process", "buffer_write",
	"wait_for_read", "idle", "disconnect", "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether Process stops in s
func (s State) IsTerminal() bool {
	return s == StateDisconnect || s == StateError
}
