package main

import (
	"context"
	"fmt"

	"github.com/wardenhq/sandbox-gateway/internal/channel"
	"github.com/wardenhq/sandbox-gateway/internal/kernel"
)

// inProcessStream adapts a kernel.Kernel to channel.Stream by running
// the kernel on a goroutine and funneling its emitted messages through
// a buffered Go channel. There is no real wire transport here — a
// production agent would instead speak to the kernel over a pipe or
// a UNIX socket, but the contract at the HTTP boundary is identical.
type inProcessStream struct {
	k       *kernel.Kernel
	msgs    chan channel.Message
	started bool
}

func newInProcessStream(k *kernel.Kernel) *inProcessStream {
	return &inProcessStream{k: k, msgs: make(chan channel.Message, 64)}
}

func (s *inProcessStream) Send(ctx context.Context, parentID, code string) error {
	if s.started {
		return fmt.Errorf("stream already has an execution in flight")
	}
	s.started = true

	emitter := &channelEmitter{parentID: parentID, out: s.msgs}
	go func() {
		s.k.Run(ctx, code, emitter)
		close(s.msgs)
	}()
	return nil
}

func (s *inProcessStream) Recv(ctx context.Context) (channel.Message, error) {
	select {
	case <-ctx.Done():
		return channel.Message{}, ctx.Err()
	case m, ok := <-s.msgs:
		if !ok {
			return channel.Message{}, fmt.Errorf("stream closed without a terminal status")
		}
		return m, nil
	}
}

// channelEmitter turns kernel.Emitter calls into channel.Message
// values tagged with the request's parent id.
type channelEmitter struct {
	parentID string
	out      chan<- channel.Message
}

func (e *channelEmitter) Stream(text string) {
	e.out <- channel.Message{Type: channel.TypeStream, ParentID: e.parentID, Text: text}
}

func (e *channelEmitter) ExecuteResult(text string) {
	e.out <- channel.Message{Type: channel.TypeExecuteResult, ParentID: e.parentID, Text: text}
}

func (e *channelEmitter) DisplayData(imageBase64 string) {
	e.out <- channel.Message{Type: channel.TypeDisplayData, ParentID: e.parentID, ImageBase64: imageBase64}
}

func (e *channelEmitter) Error(name, value string) {
	e.out <- channel.Message{Type: channel.TypeError, ParentID: e.parentID, ErrorName: name, ErrorValue: value}
}

func (e *channelEmitter) Idle() {
	e.out <- channel.Message{Type: channel.TypeStatus, ParentID: e.parentID, State: channel.ExecutionStateIdle}
}
