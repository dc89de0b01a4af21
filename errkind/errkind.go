// Package errkind defines the sentinel error kinds shared by every
// transport and adapter in this module. Callers should use errors.Is
// against the exported sentinels, and errors.As against *Error when the
// wrapped detail (register id, address, attempt count) is needed.
package errkind

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap one of these with fmt.Errorf("...: %w", ...) or
// use Wrap below.
var (
	// TransportUnavailable means the underlying link (serial port, TCP
	// socket, BLE connection) could not be opened or was lost.
	TransportUnavailable = errors.New("transport unavailable")

	// ProtocolError means the transport is up but the peer returned a
	// malformed or unexpected response (bad CRC, wrong function code,
	// short frame).
	ProtocolError = errors.New("protocol error")

	// RegisterError means a register map entry could not be found,
	// decoded, or is out of range.
	RegisterError = errors.New("register error")

	// PartialRead means a poll cycle completed with some registers or
	// packs missing; the caller may still use the populated fields.
	PartialRead = errors.New("partial read")

	// ContextMigration means a client handle was last used from a
	// different execution context and had to be recreated.
	ContextMigration = errors.New("context migration")

	// Timeout means an operation exceeded its deadline.
	Timeout = errors.New("timeout")
)

// Error carries a sentinel kind plus contextual detail.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap builds an *Error of the given kind with a formatted detail string.
func Wrap(kind error, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}
