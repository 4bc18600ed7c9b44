package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a failure.
type ErrorKind string

const (
	KindTransportInit        ErrorKind = "TRANSPORT_INIT"
	KindRecoveryExhausted    ErrorKind = "RECOVERY_EXHAUSTED"
	KindPayloadMissingField  ErrorKind = "PAYLOAD_MISSING_FIELD"
	KindUnsupportedMediaKind ErrorKind = "UNSUPPORTED_MEDIA_KIND"
	KindMediaTooLarge        ErrorKind = "MEDIA_TOO_LARGE"
	KindUploadHandshake      ErrorKind = "UPLOAD_HANDSHAKE"
	KindUploadSubmit         ErrorKind = "UPLOAD_SUBMIT"
	KindStabilizationTimeout ErrorKind = "STABILIZATION_TIMEOUT"
	KindInvalidState         ErrorKind = "INVALID_STATE"
	KindTransport            ErrorKind = "TRANSPORT"
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NewError builds an error without a cause.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an error around cause.
func WrapError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Kind returns a sentinel usable with errors.Is.
func Kind(kind ErrorKind) error {
	return &Error{Kind: kind}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
