package channel

import (
	"context"
	"fmt"
)

// Stream is the bidirectional message transport between the agent and
// the kernel: Send emits a request, Recv blocks for the next reply.
// A real implementation speaks the kernel's native wire format; tests
// and cmd/sandbox-agent's mock kernel implement it directly in Go.
type Stream interface {
	Send(ctx context.Context, parentID, code string) error
	Recv(ctx context.Context) (Message, error)
}

// Channel wraps one Stream and runs execute requests over it. It takes
// no lock of its own; the reference agent builds a Channel per request
// and holds its own mutex around each execute, so it never has more
// than one execute in flight.
type Channel struct {
	stream Stream
}

// New wraps a Stream in a Channel.
func New(stream Stream) *Channel {
	return &Channel{stream: stream}
}

// Execute sends code as a fresh execute_request and assembles the
// reply until the terminal signal or ctx's deadline, whichever comes
// first. A timeout produces a Result with TimedOut set rather than an
// error — the caller (the reference agent's HTTP handler) maps that to
// a 4xx "user-code timeout" response; the sandbox itself is considered
// unreliable afterward and is recycled by the pool controller, never
// reused.
func (c *Channel) Execute(ctx context.Context, code string) (Result, error) {
	parentID := NewMessageID()
	if err := c.stream.Send(ctx, parentID, code); err != nil {
		return Result{}, fmt.Errorf("send execute_request: %w", err)
	}

	asm := NewAssembler(parentID)
	for {
		msg, err := c.stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{TimedOut: true}, nil
			}
			return Result{}, fmt.Errorf("recv: %w", err)
		}
		if asm.Feed(msg) {
			return asm.Result(), nil
		}
	}
}
