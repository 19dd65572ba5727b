package session

import (
	"fmt"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/negotiation"
	"github.com/1ureka/meshcall/internal/protocol"
)

// LinkState is the lifecycle state of a PeerLink.
type LinkState int

const (
	StateNew LinkState = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s LinkState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Closed or Failed.
func (s LinkState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var transitions = map[LinkState][]LinkState{
	StateNew:         {StateNegotiating, StateClosed, StateFailed},
	StateNegotiating: {StateConnected, StateClosed, StateFailed},
	StateConnected:   {StateClosed, StateFailed},
}

// PeerLink is the local side of the pairing with one remote participant.
// It is owned by the orchestrator's event loop and never locked.
type PeerLink struct {
	remote protocol.ParticipantID
	role   negotiation.Role
	state  LinkState

	conn   MediaLink
	stream *media.RemoteStream

	// Remote candidates held until the remote description is applied.
	pending []string

	localSet  bool
	remoteSet bool
	attached  bool

	// gen is bumped whenever an in-flight offer/answer must be abandoned;
	// completions carrying an older gen are dropped.
	gen uint64
}

func newPeerLink(local, remote protocol.ParticipantID) *PeerLink {
	return &PeerLink{
		remote: remote,
		role:   negotiation.RoleFor(local, remote),
		state:  StateNew,
		stream: media.NewRemoteStream(remote),
	}
}

func (l *PeerLink) RemoteID() protocol.ParticipantID { return l.remote }
func (l *PeerLink) Role() negotiation.Role           { return l.role }
func (l *PeerLink) State() LinkState                 { return l.state }

// PendingCandidates returns the number of buffered remote candidates.
func (l *PeerLink) PendingCandidates() int { return len(l.pending) }

func (l *PeerLink) transition(to LinkState) error {
	for _, allowed := range transitions[l.state] {
		if allowed == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for %s", l.state, to, l.remote)
}

// nextGen invalidates every in-flight async step and returns the new gen.
func (l *PeerLink) nextGen() uint64 {
	l.gen++
	return l.gen
}
