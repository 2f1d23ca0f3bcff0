// Package channel implements the Execution Channel: the message
// protocol and result-assembly logic a sandbox agent speaks to its
// embedded interpreter kernel. It is a pure library — the real kernel
// stays out of scope — so it is exercised directly by unit tests and
// by the reference agent in cmd/sandbox-agent.
package channel

import "github.com/google/uuid"

// MessageType identifies what kind of reply the kernel emitted for an
// in-flight execute request.
type MessageType string

const (
	TypeStream        MessageType = "stream"
	TypeExecuteResult MessageType = "execute_result"
	TypeDisplayData   MessageType = "display_data"
	TypeError         MessageType = "error"
	TypeStatus        MessageType = "status"
)

// ExecutionState appears on a TypeStatus message; "idle" is the only
// terminal signal the assembler recognizes.
type ExecutionState string

const ExecutionStateIdle ExecutionState = "idle"

// Message is one reply from the kernel, tagged with the id of the
// execute_request it answers.
type Message struct {
	Type     MessageType
	ParentID string

	// Text carries the payload for TypeStream and TypeExecuteResult.
	Text string

	// ImageBase64 carries the payload for TypeDisplayData.
	ImageBase64 string

	// ErrorName/ErrorValue carry the payload for TypeError.
	ErrorName  string
	ErrorValue string

	// State carries the payload for TypeStatus.
	State ExecutionState
}

// NewMessageID mints a fresh per-request message id, as used to tag
// every execute_request the agent sends to the kernel.
func NewMessageID() string {
	return uuid.NewString()
}
