package sftpshell

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to report it.
// Kinds are string-based for readable logs.
type Kind string

const (
	// KindConfiguration indicates bad or contradictory credentials.
	KindConfiguration Kind = "CONFIGURATION_ERROR"

	// KindAuthentication indicates a transport or authentication handshake failure.
	KindAuthentication Kind = "AUTHENTICATION_ERROR"

	// KindRemoteIO indicates a stat, read or write failure on the remote side.
	KindRemoteIO Kind = "REMOTE_IO_ERROR"

	// KindLocalIO indicates a local filesystem failure.
	KindLocalIO Kind = "LOCAL_IO_ERROR"

	// KindTransferInterrupted indicates the connection dropped mid-stream.
	KindTransferInterrupted Kind = "TRANSFER_INTERRUPTED"
)

// Error is the error type returned by session operations.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrRemoteIO            = &Error{Kind: KindRemoteIO}
	ErrLocalIO             = &Error{Kind: KindLocalIO}
	ErrTransferInterrupted = &Error{Kind: KindTransferInterrupted}
)

var (
	// ErrNotConnected is returned when an operation needs a transport that was never established.
	ErrNotConnected = errors.New("session is not connected")

	// ErrSessionClosed is returned when connecting a session that was already disconnected.
	ErrSessionClosed = errors.New("session has been disconnected")
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare kind sentinel matching e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: "invalid credentials", Err: fmt.Errorf(format, args...)}
}
