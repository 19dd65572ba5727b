package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec converts messages to and from the bytes carried by the broadcast
// transport.
type Codec interface {
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// Tags used by the original browser pages sharing a topic.
const (
	legacyJoin     = "JOIN_ROOM"
	legacyExchange = "EXCHANGE"
	legacyRemove   = "REMOVE_USER"
)

// wireMessage is the flat on-the-wire mapping. Only the fields relevant to
// Type are set.
type wireMessage struct {
	Type              string    `json:"type" msgpack:"type"`
	From              string    `json:"from,omitempty" msgpack:"from,omitempty"`
	To                string    `json:"to,omitempty" msgpack:"to,omitempty"`
	SDP               string    `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate         string    `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	KnownParticipants *[]string `json:"knownParticipants,omitempty" msgpack:"knownParticipants,omitempty"`
	UsersInRoom       string    `json:"usersInRoom,omitempty" msgpack:"usersInRoom,omitempty"`
}

// description is the embedded {type, sdp} blob browsers produce with
// JSON.stringify(pc.localDescription).
type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// candidateInit mirrors the required part of RTCIceCandidateInit.
type candidateInit struct {
	Candidate *string `json:"candidate"`
}

// ---------------------------------------------------------------------------
// Message -> wire
// ---------------------------------------------------------------------------

func encodeDescription(typ, sdp string) (string, error) {
	data, err := json.Marshal(description{Type: typ, SDP: sdp})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func toWire(m Message, legacy bool) (*wireMessage, error) {
	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", typeName(m), err)
	}

	w := &wireMessage{Type: string(m.Type()), From: string(m.Sender())}

	switch msg := m.(type) {
	case *Join:
		if legacy {
			w.Type = legacyJoin
		}

	case *Leave:
		if legacy {
			w.Type = legacyRemove
		}

	case *RollCall:
		known := make([]string, len(msg.Known))
		for i, id := range msg.Known {
			known[i] = string(id)
		}
		if legacy {
			users := make(map[string]bool, len(known))
			for _, id := range known {
				users[id] = true
			}
			data, err := json.Marshal(users)
			if err != nil {
				return nil, err
			}
			w.UsersInRoom = string(data)
		} else {
			w.KnownParticipants = &known
		}

	case *Offer:
		blob, err := encodeDescription("offer", msg.SDP)
		if err != nil {
			return nil, err
		}
		w.To, w.SDP = string(msg.To), blob
		if legacy {
			w.Type = legacyExchange
		}

	case *Answer:
		blob, err := encodeDescription("answer", msg.SDP)
		if err != nil {
			return nil, err
		}
		w.To, w.SDP = string(msg.To), blob
		if legacy {
			w.Type = legacyExchange
		}

	case *IceCandidate:
		w.To, w.Candidate = string(msg.To), msg.Candidate
		if legacy {
			w.Type = legacyExchange
		}

	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}

	return w, nil
}

func typeName(m Message) string {
	if m == nil {
		return "<nil>"
	}
	return string(m.Type())
}

// ---------------------------------------------------------------------------
// wire -> Message
// ---------------------------------------------------------------------------

func decodeDescription(blob, want string) (string, error) {
	var d description
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return "", decodeErr("unparsable description", err)
	}
	if want != "" && d.Type != want {
		return "", decodeErr(fmt.Sprintf("description type %q, want %q", d.Type, want), nil)
	}
	if d.SDP == "" {
		return "", decodeErr("empty description sdp", nil)
	}
	return d.SDP, nil
}

func checkCandidate(blob string) error {
	var c candidateInit
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return decodeErr("unparsable candidate", err)
	}
	if c.Candidate == nil || *c.Candidate == "" {
		return decodeErr("empty candidate", nil)
	}
	return nil
}

func fromWire(w *wireMessage) (Message, error) {
	from, to := ParticipantID(w.From), ParticipantID(w.To)

	var m Message
	switch w.Type {
	case string(TypeJoin), legacyJoin:
		m = &Join{From: from}

	case string(TypeLeave), legacyRemove:
		m = &Leave{From: from}

	case string(TypeRollCall):
		var known []ParticipantID
		switch {
		case w.KnownParticipants != nil:
			for _, id := range *w.KnownParticipants {
				known = append(known, ParticipantID(id))
			}
		case w.UsersInRoom != "":
			var users map[string]bool
			if err := json.Unmarshal([]byte(w.UsersInRoom), &users); err != nil {
				return nil, decodeErr("unparsable usersInRoom", err)
			}
			for id := range users {
				known = append(known, ParticipantID(id))
			}
		default:
			return nil, decodeErr("rollcall without known participants", nil)
		}
		m = NewRollCall(from, known)

	case string(TypeOffer):
		sdp, err := decodeDescription(w.SDP, "offer")
		if err != nil {
			return nil, err
		}
		m = &Offer{From: from, To: to, SDP: sdp}

	case string(TypeAnswer):
		sdp, err := decodeDescription(w.SDP, "answer")
		if err != nil {
			return nil, err
		}
		m = &Answer{From: from, To: to, SDP: sdp}

	case string(TypeCandidate):
		if err := checkCandidate(w.Candidate); err != nil {
			return nil, err
		}
		m = &IceCandidate{From: from, To: to, Candidate: w.Candidate}

	case legacyExchange:
		var err error
		if m, err = fromLegacyExchange(w); err != nil {
			return nil, err
		}

	case "":
		return nil, decodeErr("missing type", nil)

	default:
		return nil, decodeErr(fmt.Sprintf("unknown type %q", w.Type), nil)
	}

	if err := Validate(m); err != nil {
		return nil, decodeErr(string(m.Type()), err)
	}
	return m, nil
}

// fromLegacyExchange splits the original EXCHANGE tag into Offer, Answer or
// IceCandidate depending on which payload it carries.
func fromLegacyExchange(w *wireMessage) (Message, error) {
	from, to := ParticipantID(w.From), ParticipantID(w.To)

	switch {
	case w.SDP != "" && w.Candidate != "":
		return nil, decodeErr("exchange with both sdp and candidate", nil)

	case w.SDP != "":
		var d description
		if err := json.Unmarshal([]byte(w.SDP), &d); err != nil {
			return nil, decodeErr("unparsable description", err)
		}
		sdp, err := decodeDescription(w.SDP, d.Type)
		if err != nil {
			return nil, err
		}
		switch d.Type {
		case "offer":
			return &Offer{From: from, To: to, SDP: sdp}, nil
		case "answer":
			return &Answer{From: from, To: to, SDP: sdp}, nil
		default:
			return nil, decodeErr(fmt.Sprintf("unsupported description type %q", d.Type), nil)
		}

	case w.Candidate != "":
		if err := checkCandidate(w.Candidate); err != nil {
			return nil, err
		}
		return &IceCandidate{From: from, To: to, Candidate: w.Candidate}, nil

	default:
		return nil, decodeErr("exchange without sdp or candidate", nil)
	}
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// JSONCodec is the default text encoding. With Legacy set it emits the tags
// understood by the original browser pages; decoding accepts both dialects.
type JSONCodec struct {
	Legacy bool
}

// Encode serializes m as a flat JSON object.
func (c JSONCodec) Encode(m Message) ([]byte, error) {
	w, err := toWire(m, c.Legacy)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses a JSON payload. It fails closed with a *DecodeError.
func (c JSONCodec) Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, decodeErr("invalid json", err)
	}
	return fromWire(&w)
}
