package protocol

import (
	"errors"
	"fmt"
)

// ErrDecode matches every DecodeError via errors.Is.
var ErrDecode = errors.New("malformed signal message")

// DecodeError reports an inbound payload that could not be turned into a
// valid Message. Receivers drop the payload and keep going.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode signal message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode signal message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}
