package protocol

import (
	"errors"
	"fmt"
)

// ErrMissingType is reported for JSON objects without a "type" field.
var ErrMissingType = errors.New("missing message type")

// DecodeError reports a line that does not satisfy the {type, ...} envelope.
type DecodeError struct {
	Cause error
	Line  []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed line %q: %v", truncate(e.Line, 120), e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// UnknownTypeError reports a well-formed line whose type is not recognized.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// UnknownSubtypeError reports a control request subtype this package does
// not model.
type UnknownSubtypeError struct {
	Subtype string
}

func (e *UnknownSubtypeError) Error() string {
	return fmt.Sprintf("unknown control request subtype %q", e.Subtype)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
