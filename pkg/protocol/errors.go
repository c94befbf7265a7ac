package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol package.
var (
	// ErrTooLarge indicates a payload above the transport limit.
	ErrTooLarge = errors.New("protocol: payload too large")

	// ErrMalformed indicates the payload is not a JSON object of the
	// expected shape.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownType indicates an unsupported message type.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrMissingField indicates a required field was absent or null.
	ErrMissingField = errors.New("protocol: missing required field")

	// ErrOutOfRange indicates a value outside its allowed range or set.
	ErrOutOfRange = errors.New("protocol: value out of range")
)

// DecodeError describes why an inbound message was rejected.
type DecodeError struct {
	// CommandID is the command_id of the rejected message, if it could be
	// read.
	CommandID string

	// Field is the offending JSON field, empty for whole-message errors.
	Field string

	// Detail is a short human-readable explanation.
	Detail string

	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

// Unwrap returns the sentinel error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func missing(field string) *DecodeError {
	return &DecodeError{Field: field, Err: ErrMissingField}
}

func outOfRange(field, detail string) *DecodeError {
	return &DecodeError{Field: field, Detail: detail, Err: ErrOutOfRange}
}
