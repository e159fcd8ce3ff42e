// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archiveerr defines the error kinds shared by every
// tick-archive component (§7): callers switch on Kind rather than
// string-matching or type-asserting the underlying cause.
package archiveerr

import "fmt"

// Kind classifies a tick-archive failure.
type Kind int

const (
	// TickNotFound: no chunk or organism row covers the requested tick.
	TickNotFound Kind = iota
	// DecodeError: corrupt wire bytes, truncated stream, or nested-limit overflow.
	DecodeError
	// IoError: filesystem or relational-driver failure.
	IoError
	// WriteError: a transient write failure that does not stop the session.
	WriteError
	// MetadataMissing: .chunk_meta absent for a legacy run namespace.
	MetadataMissing
	// IndexInvariantViolated: two chunks overlap in [first_tick, last_tick].
	IndexInvariantViolated
	// ShutdownForced: the coordinator interrupted a session past its grace window.
	ShutdownForced
)

func (k Kind) String() string {
	switch k {
	case TickNotFound:
		return "tick_not_found"
	case DecodeError:
		return "decode_error"
	case IoError:
		return "io_error"
	case WriteError:
		return "write_error"
	case MetadataMissing:
		return "metadata_missing"
	case IndexInvariantViolated:
		return "index_invariant_violated"
	case ShutdownForced:
		return "shutdown_forced"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with its underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tickarchive: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tickarchive: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind wrapping err.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Newf constructs an *Error of the given kind from a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// through any wrapper chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// Transient reports whether err should be logged and error-counted
// without stopping the caller (§4.9's ingest-wrapper classification), as
// opposed to a fatal error that must be rethrown past the call.
func Transient(err error) bool {
	return Is(err, WriteError) || Is(err, IoError)
}
