// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Callers branch on the kind, never on
// the message.
type ErrorKind int

const (
	// KindUnauthenticated means no user session is active.
	KindUnauthenticated ErrorKind = iota + 1

	// KindInvalidArgument means the caller supplied malformed input or named
	// a record that does not exist. Raised before the lock is taken.
	KindInvalidArgument

	// KindBusy means the sync lock could not be acquired within the
	// operation's timeout. Safe to retry.
	KindBusy

	// KindOffline means a reconciliation routine was invoked while the
	// network monitor reports offline. Mutations never surface it.
	KindOffline

	// KindRemoteTransport means the remote store failed during a
	// reconciliation routine. Mutations never surface it.
	KindRemoteTransport

	// KindCorruptLocalState means the local mirror or operation log could not
	// be read or written.
	KindCorruptLocalState

	// KindInternal means the engine recovered from a panic.
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindUnauthenticated:   "unauthenticated",
	KindInvalidArgument:   "invalid_argument",
	KindBusy:              "busy",
	KindOffline:           "offline",
	KindRemoteTransport:   "remote_transport",
	KindCorruptLocalState: "corrupt_local_state",
	KindInternal:          "internal",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrOffline           = &Error{Kind: KindOffline}
	ErrRemoteTransport   = &Error{Kind: KindRemoteTransport}
	ErrCorruptLocalState = &Error{Kind: KindCorruptLocalState}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is the error type returned by every Engine operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func invalidArgument(op, format string, args ...any) *Error {
	return newError(KindInvalidArgument, op, fmt.Errorf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
