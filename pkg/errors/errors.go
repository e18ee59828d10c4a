// Package errors annotates errors with where they are wrapped.
//
// Usage:
//
//	if err := store.Fetch(ctx, keys); err != nil {
//		return xe.WrapWithNote("fetching live data", err)
//	}
//
// Messages of wrapped errors read as
//
//	@ pkg.Func "file.go" l12 (note) <- cause
//
// and replacing `<-` with newlines gives you "stacks" of where you marked.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrWithCaller is an error wrapped at a location.
type ErrWithCaller struct {
	frame runtime.Frame
	note  string
	err   error
}

func (e *ErrWithCaller) File() string {
	return e.frame.File
}

func (e *ErrWithCaller) Line() int {
	return e.frame.Line
}

func (e *ErrWithCaller) Func() string {
	return e.frame.Function
}

func (e *ErrWithCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.Func(), e.File(), e.Line(), e.err)
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.Func(), e.File(), e.Line(), e.note, e.err)
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

// New creates an error with text, wrapped at the caller.
func New(text string) error {
	return wrap("", errors.New(text), 1)
}

// Errorf is fmt.Errorf, wrapped at the caller.
func Errorf(format string, args ...any) error {
	return wrap("", fmt.Errorf(format, args...), 1)
}

// Wrap wraps err at the caller. nil is left as is.
func Wrap(err error) error {
	return wrap("", err, 1)
}

// WrapWithNote wraps err at the caller with a note. nil is left as is.
func WrapWithNote(note string, err error) error {
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, 1)
	frame := runtime.Frame{Function: "(unknown func)", File: "?", Line: -1}
	if n := runtime.Callers(depth+2, pcs); n != 0 {
		if f, _ := runtime.CallersFrames(pcs).Next(); f.PC != 0 {
			frame = f
		}
	}
	return &ErrWithCaller{frame: frame, note: note, err: err}
}
