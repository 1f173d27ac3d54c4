// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"io"
)

// Error is our own defined error type. It is the value carried (negated) in
// the result field of a queue response, so the numbering is part of the wire
// format and must not be reordered.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	// ErrNotFound is returned when a table, object, or job does not exist.
	ErrNotFound

	// ErrAlreadyExists is returned when a create collides with an existing object.
	ErrAlreadyExists

	// ErrInvalidInput is returned for malformed paths, malformed tag lists, too
	// many tags, non-numeric ids and output buffers that are too small.
	ErrInvalidInput

	// ErrUnsupported is returned when an operation is not meaningful for the
	// kind of resource it was issued against (e.g. seek on a query).
	ErrUnsupported

	// ErrAmbiguous is returned when a filter that had to select exactly one
	// object matched more than one.
	ErrAmbiguous

	// ErrProtocol is returned when a queue is full on enqueue, when a queue
	// region is corrupt, or when the kernel replies with a result we don't
	// recognize. It is a logic error and never worth retrying.
	ErrProtocol

	// ErrBadHandle is returned when a request names a handle that is not live,
	// or one of the wrong kind.
	ErrBadHandle

	// ErrBusy is returned when the kernel refuses to queue more work.
	ErrBusy

	// ErrEOF is what File.Read returns at the end of an object, as io.EOF. It
	// never crosses the queue: there a read at EOF is a successful read of 0
	// bytes.
	ErrEOF

	// ErrIO is returned if a table's backing store fails.
	ErrIO

	// ErrCorruptData is returned if stored object data fails verification.
	ErrCorruptData

	// errMax must stay last.
	errMax
)

var description = map[Error]string{
	NoError:          "no error",
	ErrNotFound:      "not found",
	ErrAlreadyExists: "already exists",
	ErrInvalidInput:  "invalid input",
	ErrUnsupported:   "operation not supported on this resource",
	ErrAmbiguous:     "ambiguous: more than one object matched",
	ErrProtocol:      "I/O queue protocol failure",
	ErrBadHandle:     "invalid handle",
	ErrBusy:          "too busy",
	ErrEOF:           "end of file",
	ErrIO:            "I/O level error",
	ErrCorruptData:   "stored data is corrupt",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	} else if e == ErrEOF {
		// io.EOF is treated specially by the Go standard library and is
		// required for File to satisfy io.Reader.
		return io.EOF
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver error
// underneath, including errors annotated with WithMessage.
func (e Error) Is(g error) bool {
	c, ok := ToError(g)
	return ok && c == e
}

// WithMessage returns a Go error of kind 'e' that prints 'msg' instead of the
// generic description. Use it where callers benefit from knowing which of
// several reasons produced the same kind (e.g. "no object with tags").
func (e Error) WithMessage(msg string) error {
	if e == NoError {
		return nil
	}
	return &msgError{kind: e, msg: msg}
}

// Result returns the value placed in a queue response to report this error.
func (e Error) Result() int64 {
	return -int64(e)
}

// goError is a wrapper type to make our Error act like Go's 'error'
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

type msgError struct {
	kind Error
	msg  string
}

func (m *msgError) Error() string {
	return m.msg
}

// ToError gets the underlying core.Error from an error.
func ToError(err error) (Error, bool) {
	switch e := err.(type) {
	case goError:
		return Error(e), true
	case *msgError:
		return e.kind, true
	}
	if err == io.EOF {
		return ErrEOF, true
	}
	return NoError, false
}

// FromResult decodes the result of a queue response. Non-negative values are
// successful and yield NoError. Negative values carry an error code; codes we
// don't know about are reported as ErrProtocol.
func FromResult(v int64) Error {
	if v >= 0 {
		return NoError
	}
	if v < -int64(errMax-1) {
		return ErrProtocol
	}
	e := Error(-v)
	if e == ErrEOF {
		// EOF is never encoded as an error on the wire.
		return ErrProtocol
	}
	return e
}
