// Package media holds the local and remote stream handles exchanged between
// the session orchestrator, the capture provider and the view sink.
package media

import (
	"slices"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshcall/internal/protocol"
)

// Constraints selects what the capture provider acquires.
type Constraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

// DefaultConstraints matches the original page: video only, 480x360.
func DefaultConstraints() Constraints {
	return Constraints{Video: true, Width: 480, Height: 360}
}

// LocalStream is the captured local media. Every peer link attaches the same
// tracks; the stream is never mutated after Acquire returns.
type LocalStream struct {
	ID string

	tracks   []webrtc.TrackLocal
	stop     func()
	stopOnce sync.Once
}

// NewLocalStream wraps already-created tracks. stop may be nil.
func NewLocalStream(id string, tracks []webrtc.TrackLocal, stop func()) *LocalStream {
	return &LocalStream{ID: id, tracks: tracks, stop: stop}
}

// Tracks returns the stream's tracks.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tracks)
}

// Stop releases the capture source. Safe to call more than once.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// RemoteTrack is the read side of an incoming track. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream collects the tracks received from one remote participant.
// Tracks may keep arriving after the stream was handed to a sink.
type RemoteStream struct {
	RemoteID protocol.ParticipantID

	mu      sync.Mutex
	tracks  []RemoteTrack
	onTrack func(RemoteTrack)
}

// NewRemoteStream creates an empty stream for remoteID.
func NewRemoteStream(remoteID protocol.ParticipantID) *RemoteStream {
	return &RemoteStream{RemoteID: remoteID}
}

// AddTrack appends a track and notifies the subscriber, if any.
func (s *RemoteStream) AddTrack(t RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	fn := s.onTrack
	s.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

// Tracks returns the tracks received so far.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracks)
}

// OnTrack replays the tracks received so far to fn and then subscribes it to
// future ones. Only one subscriber is kept.
func (s *RemoteStream) OnTrack(fn func(RemoteTrack)) {
	s.mu.Lock()
	existing := slices.Clone(s.tracks)
	s.onTrack = fn
	s.mu.Unlock()

	for _, t := range existing {
		fn(t)
	}
}

// ViewSink renders remote streams. Detach of an unknown id is a no-op.
type ViewSink interface {
	Attach(remoteID protocol.ParticipantID, stream *RemoteStream)
	Detach(remoteID protocol.ParticipantID)
}
