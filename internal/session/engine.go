package session

import (
	"github.com/1ureka/meshcall/internal/media"
)

// ConnState is the connectivity reported by a MediaLink.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaEngine creates the transport-level connection behind a PeerLink.
type MediaEngine interface {
	// NewLink creates a connection carrying local's tracks. local is nil in
	// receive-only mode.
	NewLink(local *media.LocalStream) (MediaLink, error)
}

// MediaLink is one transport-level connection. Description strings are raw
// SDP; candidate strings are the JSON of an ICE candidate init.
//
// CreateOffer and CreateAnswer may block and are called off the event loop.
// Every other method is called from the event loop. Callbacks may fire on
// any goroutine.
type MediaLink interface {
	// CreateOffer generates an offer and applies it as the local description.
	CreateOffer() (string, error)
	// CreateAnswer generates an answer and applies it as the local description.
	CreateAnswer() (string, error)

	SetRemoteOffer(sdp string) error
	SetRemoteAnswer(sdp string) error
	AddICECandidate(candidate string) error

	OnICECandidate(fn func(candidate string))
	OnConnectionStateChange(fn func(ConnState))
	OnRemoteTrack(fn func(media.RemoteTrack))

	Close() error
}
