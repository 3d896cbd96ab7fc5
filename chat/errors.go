package chat

import (
	"errors"
	"fmt"
)

// ErrorType categorizes protocol errors so callers can decide whether a
// failure kills the connection or only the offending frame.
type ErrorType int

const (
	ErrorTypeHandshake ErrorType = iota
	ErrorTypeKeyDerivation
	ErrorTypeAuthentication
	ErrorTypeProtocol
	ErrorTypeNotReady
	ErrorTypeIO
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeHandshake:
		return "handshake"
	case ErrorTypeKeyDerivation:
		return "key_derivation"
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeProtocol:
		return "protocol"
	case ErrorTypeNotReady:
		return "not_ready"
	case ErrorTypeIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the error value produced by the chat core. Type drives the
// teardown policy (see Peer.readLoop), Op names the failing operation.
type Error struct {
	Type ErrorType
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Op)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// IsErrorType reports whether err is (or wraps) a chat Error of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Type == t
}

// Sentinel causes carried inside *Error values where the caller needs to
// distinguish between drop-the-frame and drop-the-connection outcomes.
var (
	// ErrUnknownFrameType marks a frame whose type field is not recognized.
	// The frame is discarded; the connection survives.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrHandshakeIncomplete marks an encrypted frame that arrived before a
	// shared secret was established. The connection is terminated.
	ErrHandshakeIncomplete = errors.New("handshake not complete")
)
