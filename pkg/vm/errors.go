package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one level of the call stack at the moment a
// runtime error was raised: which function was running and at what
// source line, used to print the trace spec.md §6 requires.
type StackFrame struct {
	Name       string // function name, or "script" for top-level code
	SourceLine int
}

// RuntimeError is returned by Interpret when the program panics at
// runtime (type errors, undefined variables, arity mismatches, and so
// on). Error() renders the message followed by a frame trace from
// innermost to outermost call, matching the "[line L] in <name>"
// format clox's reportRuntimeError prints to stderr.
type RuntimeError struct {
	Message string
	Frames  []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for i := len(e.Frames) - 1; i >= 0; i-- {
		f := e.Frames[i]
		b.WriteByte('\n')
		fmt.Fprintf(&b, "[line %d] in %s", f.SourceLine, f.Name)
	}
	return b.String()
}

func newRuntimeError(message string, frames []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, Frames: frames}
}
