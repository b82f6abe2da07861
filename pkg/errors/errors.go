// Package errors provides an error wrapper which remembers where it is wrapped.
//
//	wrapped := xe.Wrap(err)
//
// The message of `wrapped` looks like
//
//	@ funcname "file" lNN <- original message
//
// Replace `s/<-/\n/` and it gives you "stacks" of where you marked.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

type ErrWithCaller struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *ErrWithCaller) File() string {
	return e.file
}

func (e *ErrWithCaller) Line() int {
	return e.line
}

func (e *ErrWithCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err)
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err)
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

func New(text string) error {
	return wrap("", errors.New(text))
}

// Wrap returns err annotated with the location of the caller.
//
// Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return wrap("", err)
}

func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(note, err)
}

// wrap should be called directly from exported functions in this package.
func wrap(note string, err error) error {
	e := &ErrWithCaller{funcname: "(unknown func)", file: "?", line: -1, note: note, err: err}
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return e
	}
	e.file, e.line = file, line
	if fn := runtime.FuncForPC(pc); fn != nil {
		e.funcname = fn.Name()
	}
	return e
}
