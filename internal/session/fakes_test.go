package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/protocol"
)

func candidateJSON(n int) string {
	return fmt.Sprintf(`{"candidate":"candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host","sdpMid":"0","sdpMLineIndex":0}`, n, n, n)
}

// ---------------------------------------------------------------------------
// engine / link
// ---------------------------------------------------------------------------

type fakeEngine struct {
	mu     sync.Mutex
	links  []*fakeLink
	newErr error

	// auto links emit a local candidate once their local description is set
	// and report Connected once both descriptions are set.
	auto bool

	offerErr  error
	answerErr error
	remoteErr error
}

func (e *fakeEngine) NewLink(local *media.LocalStream) (MediaLink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	l := &fakeLink{
		id:        len(e.links),
		local:     local,
		auto:      e.auto,
		offerErr:  e.offerErr,
		answerErr: e.answerErr,
		remoteErr: e.remoteErr,
	}
	e.links = append(e.links, l)
	return l, nil
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.links)
}

func (e *fakeEngine) link(i int) *fakeLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links[i]
}

type fakeLink struct {
	mu    sync.Mutex
	id    int
	local *media.LocalStream
	auto  bool

	offerErr  error
	answerErr error
	remoteErr error

	localSet     bool
	remoteOffer  string
	remoteAnswer string
	applied      []string
	early        int
	closed       int
	connected    bool

	onCandidate func(string)
	onState     func(ConnState)
	onTrack     func(media.RemoteTrack)
}

func (l *fakeLink) remoteSet() bool { return l.remoteOffer != "" || l.remoteAnswer != "" }

func (l *fakeLink) CreateOffer() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offerErr != nil {
		return "", l.offerErr
	}
	l.localSet = true
	l.autoProgress()
	return fmt.Sprintf("v=0 offer %d", l.id), nil
}

func (l *fakeLink) CreateAnswer() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.answerErr != nil {
		return "", l.answerErr
	}
	l.localSet = true
	l.autoProgress()
	return fmt.Sprintf("v=0 answer %d", l.id), nil
}

func (l *fakeLink) SetRemoteOffer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteErr != nil {
		return l.remoteErr
	}
	l.remoteOffer = sdp
	return nil
}

func (l *fakeLink) SetRemoteAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteErr != nil {
		return l.remoteErr
	}
	l.remoteAnswer = sdp
	l.autoProgress()
	return nil
}

func (l *fakeLink) AddICECandidate(candidate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet() {
		l.early++
		return fmt.Errorf("remote description not set")
	}
	l.applied = append(l.applied, candidate)
	return nil
}

func (l *fakeLink) OnICECandidate(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *fakeLink) OnConnectionStateChange(fn func(ConnState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) OnRemoteTrack(fn func(media.RemoteTrack)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTrack = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

// autoProgress must be called with l.mu held.
func (l *fakeLink) autoProgress() {
	if !l.auto {
		return
	}
	if l.localSet && l.onCandidate != nil {
		cb := l.onCandidate
		go cb(candidateJSON(l.id + 1))
	}
	if l.localSet && l.remoteSet() && !l.connected && l.onState != nil {
		l.connected = true
		cb := l.onState
		go cb(ConnConnected)
	}
}

// fire invokes the state callback synchronously.
func (l *fakeLink) fire(s ConnState) {
	l.mu.Lock()
	cb := l.onState
	l.mu.Unlock()
	cb(s)
}

func (l *fakeLink) emitCandidate(c string) {
	l.mu.Lock()
	cb := l.onCandidate
	l.mu.Unlock()
	cb(c)
}

func (l *fakeLink) snapshot() (applied []string, early, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.applied...), l.early, l.closed
}

// ---------------------------------------------------------------------------
// sink
// ---------------------------------------------------------------------------

type fakeSink struct {
	mu       sync.Mutex
	attached map[protocol.ParticipantID]int
	detached map[protocol.ParticipantID]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		attached: make(map[protocol.ParticipantID]int),
		detached: make(map[protocol.ParticipantID]int),
	}
}

func (s *fakeSink) Attach(remoteID protocol.ParticipantID, _ *media.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[remoteID]++
}

func (s *fakeSink) Detach(remoteID protocol.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached[remoteID]++
}

func (s *fakeSink) counts(id protocol.ParticipantID) (attached, detached int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached[id], s.detached[id]
}

// ---------------------------------------------------------------------------
// transport
// ---------------------------------------------------------------------------

// fakeTransport records every published message and hands out a single
// subscription channel controlled by the test.
type fakeTransport struct {
	mu        sync.Mutex
	codec     protocol.Codec
	published []protocol.Message
	sub       chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{codec: protocol.JSONCodec{}, sub: make(chan []byte, 16)}
}

func (t *fakeTransport) Publish(_ context.Context, _ string, data []byte) error {
	m, err := t.codec.Decode(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, m)
	return nil
}

func (t *fakeTransport) Subscribe(context.Context, string) (<-chan []byte, error) {
	return t.sub, nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) messages() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Message(nil), t.published...)
}

// ofType returns the published messages of type typ.
func (t *fakeTransport) ofType(typ protocol.MessageType) []protocol.Message {
	var out []protocol.Message
	for _, m := range t.messages() {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// capture
// ---------------------------------------------------------------------------

type fakeCapture struct {
	err     error
	stopped int
	mu      sync.Mutex
}

func (c *fakeCapture) Acquire(context.Context, media.Constraints) (*media.LocalStream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return media.NewLocalStream("fake", nil, func() {
		c.mu.Lock()
		c.stopped++
		c.mu.Unlock()
	}), nil
}

func (c *fakeCapture) stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
