package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/session"
	"github.com/1ureka/meshcall/internal/util"
)

// Link wraps one PeerConnection behind session.MediaLink. Descriptions are
// raw SDP; candidates travel as the JSON of webrtc.ICECandidateInit.
type Link struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(session.ConnState)
}

func newLink(pc *webrtc.PeerConnection) *Link {
	l := &Link{pc: pc, pcState: webrtc.PeerConnectionStateNew}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogTrace("PeerConnection state: %s", state.String())
		l.mu.Lock()
		l.pcState = state
		fn := l.onState
		l.mu.Unlock()

		if fn != nil {
			fn(connState(state))
		}
	})

	return l
}

// ConnectionState returns the last observed PeerConnection state.
func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and sets it as the local description.
func (l *Link) CreateOffer() (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateOffer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer generates an SDP answer and sets it as the local description.
func (l *Link) CreateAnswer() (string, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer.SDP, nil
}

func (l *Link) SetRemoteOffer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (l *Link) SetRemoteAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddICECandidate adds a remote candidate received through signaling.
func (l *Link) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}
	return l.pc.AddICECandidate(init)
}

// OnICECandidate forwards every gathered local candidate. The end-of-
// gathering signal is not forwarded.
func (l *Link) OnICECandidate(fn func(string)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			util.LogWarning("failed to encode ICE candidate: %v", err)
			return
		}
		fn(string(data))
	})
}

func (l *Link) OnConnectionStateChange(fn func(session.ConnState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *Link) OnRemoteTrack(fn func(media.RemoteTrack)) {
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
		fn(track)
	})
}

// Close releases the PeerConnection.
func (l *Link) Close() error {
	return l.pc.Close()
}

func connState(s webrtc.PeerConnectionState) session.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return session.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return session.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return session.ConnClosed
	default:
		return session.ConnNew
	}
}
