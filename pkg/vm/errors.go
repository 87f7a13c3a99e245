package vm

import (
	"fmt"
	"strings"
)

// StackFrame is one remaining call frame's contribution to a runtime
// error's trace: the source line executing in it and the id of the
// procedure it belongs to (0 for the top-level script).
type StackFrame struct {
	ProcedureID int
	ProcedureName string
	SourceLine  int
}

// RuntimeError carries a message and a stack trace synthesized from the
// call frames live at the moment of failure (spec.md §7).
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for i := len(e.StackTrace) - 1; i >= 0; i-- {
		fr := e.StackTrace[i]
		name := fr.ProcedureName
		if name == "" {
			if fr.ProcedureID == 0 {
				name = "script"
			} else {
				name = fmt.Sprintf("lambda %d", fr.ProcedureID)
			}
		}
		fmt.Fprintf(&b, "\n[line %d] in %s", fr.SourceLine, name)
	}
	return b.String()
}

func newRuntimeError(format string, args []any, frames []CallFrame) *RuntimeError {
	trace := make([]StackFrame, len(frames))
	for i, fr := range frames {
		ip := fr.IP
		if ip > 0 {
			ip--
		}
		line := 0
		if ip < len(fr.Closure.Function.Chunk.Lines) {
			line = fr.Closure.Function.Chunk.Lines[ip]
		}
		trace[i] = StackFrame{
			ProcedureID:   fr.Closure.Function.ID,
			ProcedureName: fr.Closure.Function.Name,
			SourceLine:    line,
		}
	}
	return &RuntimeError{Message: fmt.Sprintf(format, args...), StackTrace: trace}
}
