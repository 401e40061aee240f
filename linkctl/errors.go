package linkctl

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Connect when no registration was reported
	// within the configured timeout, after the fallback mode if enabled.
	ErrTimeout = errors.New("linkctl: network registration timed out")

	// ErrInvalidArgument reports a configuration or request that cannot be
	// turned into a modem command.
	ErrInvalidArgument = errors.New("linkctl: invalid argument")
)

// TransportError wraps a failure of the command channel. It is never
// retried by the controller.
type TransportError struct {
	Cmd string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("linkctl: %s: %v", e.Cmd, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a registration status reply that could not be decoded.
type ParseError struct {
	Field string
	Line  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("linkctl: parse %s in %q: %v", e.Field, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
