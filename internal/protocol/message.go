// Package protocol defines the signaling messages exchanged over the broadcast
// topic and their wire encodings.
package protocol

import (
	"fmt"
	"slices"
)

// ParticipantID identifies one session participant. Ids are compared
// lexicographically wherever a total order is needed.
type ParticipantID string

// MessageType is the wire discriminator of a signaling message.
type MessageType string

const (
	TypeJoin      MessageType = "join"
	TypeRollCall  MessageType = "rollcall"
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeLeave     MessageType = "leave"
)

// Message is one of *Join, *RollCall, *Offer, *Answer, *IceCandidate or *Leave.
type Message interface {
	Type() MessageType
	Sender() ParticipantID
	validate() error
}

// Addressed is implemented by the point-to-point messages.
type Addressed interface {
	Message
	Recipient() ParticipantID
}

// Join announces a participant entering the topic.
type Join struct {
	From ParticipantID
}

// RollCall announces a participant together with the remotes it already knows.
type RollCall struct {
	From  ParticipantID
	Known []ParticipantID
}

// Offer carries an SDP offer for one remote.
type Offer struct {
	From ParticipantID
	To   ParticipantID
	SDP  string
}

// Answer carries an SDP answer for one remote.
type Answer struct {
	From ParticipantID
	To   ParticipantID
	SDP  string
}

// IceCandidate carries one trickled ICE candidate, JSON-encoded as an
// RTCIceCandidateInit.
type IceCandidate struct {
	From      ParticipantID
	To        ParticipantID
	Candidate string
}

// Leave announces a participant leaving the topic.
type Leave struct {
	From ParticipantID
}

func (*Join) Type() MessageType         { return TypeJoin }
func (*RollCall) Type() MessageType     { return TypeRollCall }
func (*Offer) Type() MessageType        { return TypeOffer }
func (*Answer) Type() MessageType       { return TypeAnswer }
func (*IceCandidate) Type() MessageType { return TypeCandidate }
func (*Leave) Type() MessageType        { return TypeLeave }

func (m *Join) Sender() ParticipantID         { return m.From }
func (m *RollCall) Sender() ParticipantID     { return m.From }
func (m *Offer) Sender() ParticipantID        { return m.From }
func (m *Answer) Sender() ParticipantID       { return m.From }
func (m *IceCandidate) Sender() ParticipantID { return m.From }
func (m *Leave) Sender() ParticipantID        { return m.From }

func (m *Offer) Recipient() ParticipantID        { return m.To }
func (m *Answer) Recipient() ParticipantID       { return m.To }
func (m *IceCandidate) Recipient() ParticipantID { return m.To }

// NewRollCall builds a RollCall with a sorted, de-duplicated known set.
func NewRollCall(from ParticipantID, known []ParticipantID) *RollCall {
	set := slices.Clone(known)
	slices.Sort(set)
	return &RollCall{From: from, Known: slices.Compact(set)}
}

// Knows reports whether id is in the roll call's known set.
func (m *RollCall) Knows(id ParticipantID) bool {
	return slices.Contains(m.Known, id)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func requireFrom(from ParticipantID) error {
	if from == "" {
		return fmt.Errorf("missing from")
	}
	return nil
}

func requireRoute(from, to ParticipantID) error {
	if err := requireFrom(from); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("missing to")
	}
	return nil
}

func (m *Join) validate() error  { return requireFrom(m.From) }
func (m *Leave) validate() error { return requireFrom(m.From) }

func (m *RollCall) validate() error {
	if err := requireFrom(m.From); err != nil {
		return err
	}
	for _, id := range m.Known {
		if id == "" {
			return fmt.Errorf("empty id in known participants")
		}
	}
	return nil
}

func (m *Offer) validate() error {
	if err := requireRoute(m.From, m.To); err != nil {
		return err
	}
	if m.SDP == "" {
		return fmt.Errorf("missing sdp")
	}
	return nil
}

func (m *Answer) validate() error {
	if err := requireRoute(m.From, m.To); err != nil {
		return err
	}
	if m.SDP == "" {
		return fmt.Errorf("missing sdp")
	}
	return nil
}

func (m *IceCandidate) validate() error {
	if err := requireRoute(m.From, m.To); err != nil {
		return err
	}
	if m.Candidate == "" {
		return fmt.Errorf("missing candidate")
	}
	return nil
}

// Validate checks the invariants of m: every message has a sender, and
// point-to-point messages have a recipient and a non-empty payload.
func Validate(m Message) error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	return m.validate()
}
