package suite

// This file contains the failure type raised by T and the formatting of its
// call stack into a TAP traceback.

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

const (
	pkgPrefix    = "github.com/perfgo/hiltest/suite."
	methodPrefix = pkgPrefix + "(*T)."
)

// internal lists the functions of this package that build failures.
var internal = []string{methodPrefix, pkgPrefix + "newAssertionError", pkgPrefix + "panicTraceback"}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// AssertionError is the failure of a check made through T.
type AssertionError struct {
	msg   string
	cause error
}

func newAssertionError(msg string) *AssertionError {
	return &AssertionError{msg: msg, cause: errors.New(msg)}
}

func (e *AssertionError) Error() string { return e.msg }

// Traceback formats the call stack of the failure with the innermost call
// last, followed by the failure message.
func (e *AssertionError) Traceback() string {
	return traceback(e.cause, "AssertionError: "+e.msg)
}

func traceback(err error, last string) string {
	var sb strings.Builder
	if st, ok := err.(stackTracer); ok {
		frames := caseFrames(st.StackTrace())
		if len(frames) > 0 {
			sb.WriteString("Traceback (most recent call last):\n")
		}
		for i := len(frames) - 1; i >= 0; i-- {
			sb.WriteString(frames[i])
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(last)
	return sb.String()
}

// caseFrames formats the frames that belong to the case, dropping the
// runtime and the methods of T that raised the failure. The walk stops at
// the runner.
func caseFrames(stack errors.StackTrace) []string {
	var out []string
	for _, f := range stack {
		pc := uintptr(f) - 1
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		name := fn.Name()
		if name == methodPrefix+"run" {
			return out
		}
		if strings.HasPrefix(name, "runtime.") || isInternal(name) {
			continue
		}
		file, line := fn.FileLine(pc)
		out = append(out, fmt.Sprintf("  %s:%d %s", file, line, name))
	}
	return out
}

func isInternal(name string) bool {
	for _, prefix := range internal {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// panicTraceback formats a panic recovered from a case. It must be called
// from the deferred function that recovered v so the stack still holds the
// panicking frames.
func panicTraceback(v any) string {
	msg := fmt.Sprintf("panic: %v", v)
	return traceback(errors.New(msg), msg)
}
