// Package negotiation decides, from the two participant ids alone, which side
// of a pair creates the offer. Both endpoints evaluate the same rule, so no
// coordination round-trip is needed and simultaneous offers cannot happen
// between two well-behaved peers.
package negotiation

import "github.com/1ureka/meshcall/internal/protocol"

// Role is the fixed part a participant plays for one pair.
type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// RoleFor returns the local role towards remote: the lexicographically
// smaller id always offers.
func RoleFor(local, remote protocol.ParticipantID) Role {
	if local < remote {
		return Offerer
	}
	return Answerer
}

// GlareAction is the reaction to an inbound offer.
type GlareAction int

const (
	// AcceptRemoteOffer: apply the remote offer and answer it. Any local
	// offer attempt is abandoned.
	AcceptRemoteOffer GlareAction = iota
	// IgnoreRemoteOffer: keep the local offer; the remote must answer it.
	IgnoreRemoteOffer
)

func (a GlareAction) String() string {
	if a == IgnoreRemoteOffer {
		return "ignore-remote-offer"
	}
	return "accept-remote-offer"
}

// ResolveOffer decides what to do with an inbound offer from remote. The
// designated offerer ignores it; the designated answerer accepts it, dropping
// an outbound offer of its own if one was started.
func ResolveOffer(local, remote protocol.ParticipantID) GlareAction {
	if RoleFor(local, remote) == Offerer {
		return IgnoreRemoteOffer
	}
	return AcceptRemoteOffer
}
