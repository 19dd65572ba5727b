package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/protocol"
)

var (
	// ErrCapture: local media could not be acquired. Fatal to Run unless
	// receive-only mode is enabled.
	ErrCapture = media.ErrCapture

	// ErrNegotiation: the engine rejected a description or failed to
	// generate one. The affected link fails; others are untouched.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrLinkFailure: the transport reported the connection lost.
	ErrLinkFailure = errors.New("peer link failed")

	// ErrClosed: the broadcast subscription ended underneath the session.
	ErrClosed = errors.New("session closed")

	// ErrAlreadyJoined: Run was called on an orchestrator that already ran.
	ErrAlreadyJoined = errors.New("session already joined")
)

// LinkError reports a failure isolated to the link with one remote.
type LinkError struct {
	Op     string
	Remote protocol.ParticipantID
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Remote, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func negotiationError(op string, remote protocol.ParticipantID, err error) *LinkError {
	return &LinkError{Op: op, Remote: remote, Err: fmt.Errorf("%w: %w", ErrNegotiation, err)}
}
