package channel

import "strings"

// ErrorInfo describes a kernel-reported execution error.
type ErrorInfo struct {
	Name  string
	Value string
}

// Result is the outcome of one execute request, after the terminal
// idle signal (or an error) has been observed. Precedence is fixed:
// an error dominates; otherwise an image wins over text; otherwise the
// accumulated text (which may be empty) is returned.
type Result struct {
	Text        string
	ImageBase64 string
	Err         *ErrorInfo
	TimedOut    bool
}

// Assembler is a pure state-reducer over the messages belonging to a
// single in-flight request. It is not safe for concurrent use by
// design — a sandbox serializes one execute at a time — so there is
// nothing to lock.
type Assembler struct {
	parentID string
	text     strings.Builder
	image    string
	errInfo  *ErrorInfo
	done     bool
}

// NewAssembler starts collecting replies for the execute_request whose
// id is parentID.
func NewAssembler(parentID string) *Assembler {
	return &Assembler{parentID: parentID}
}

// Feed applies one message to the reducer. It returns true once the
// terminal signal has been observed (a status{idle} or an error) and
// Result should be called; Feed after that point is a no-op.
//
// Messages whose ParentID doesn't match the in-flight request are
// discarded, per the protocol's multi-tenant stream-sharing rule.
func (a *Assembler) Feed(m Message) bool {
	if a.done {
		return true
	}
	if m.ParentID != a.parentID {
		return false
	}

	switch m.Type {
	case TypeStream, TypeExecuteResult:
		a.text.WriteString(m.Text)
	case TypeDisplayData:
		// Last image wins: an overwrite, never an append.
		a.image = m.ImageBase64
	case TypeError:
		a.errInfo = &ErrorInfo{Name: m.ErrorName, Value: m.ErrorValue}
		a.done = true
	case TypeStatus:
		if m.State == ExecutionStateIdle {
			a.done = true
		}
	}
	return a.done
}

// Done reports whether the terminal signal has been observed.
func (a *Assembler) Done() bool { return a.done }

// Result materializes the accumulated state per the fixed precedence:
// error, then image, then text.
func (a *Assembler) Result() Result {
	if a.errInfo != nil {
		return Result{Err: a.errInfo}
	}
	if a.image != "" {
		return Result{ImageBase64: a.image}
	}
	return Result{Text: a.text.String()}
}
