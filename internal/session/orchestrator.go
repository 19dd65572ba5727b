// Package session implements the peer-session orchestrator: it turns the
// broadcast stream of signaling messages into one negotiated media link per
// remote participant.
//
// All state lives on a single event loop. Inbound messages, engine callbacks
// and the completions of offer/answer generation are queued as events and
// processed one at a time, so the Registry and every PeerLink are mutated
// without locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/meshcall/internal/broadcast"
	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/negotiation"
	"github.com/1ureka/meshcall/internal/protocol"
	"github.com/1ureka/meshcall/internal/util"
)

const (
	eventQueueSize = 256
	leaveTimeout   = 2 * time.Second
)

// JoinProtocol selects how the local participant announces itself.
type JoinProtocol int

const (
	// Announce publishes Join; existing participants reach out to us.
	Announce JoinProtocol = iota
	// RollCallJoin publishes a RollCall with an empty known set; existing
	// participants answer with their own RollCall.
	RollCallJoin
)

func (p JoinProtocol) String() string {
	if p == RollCallJoin {
		return "rollcall"
	}
	return "announce"
}

// ParseJoinProtocol accepts "announce" (or "") and "rollcall".
func ParseJoinProtocol(s string) (JoinProtocol, error) {
	switch strings.ToLower(s) {
	case "", "announce":
		return Announce, nil
	case "rollcall":
		return RollCallJoin, nil
	default:
		return Announce, fmt.Errorf("unknown join protocol %q", s)
	}
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	LocalID     protocol.ParticipantID
	Topic       string
	Protocol    JoinProtocol
	Constraints media.Constraints

	// ReceiveOnly lets the session start without local media when capture
	// fails or no Capture is configured.
	ReceiveOnly bool

	Transport broadcast.Transport
	Codec     protocol.Codec // defaults to protocol.JSONCodec{}
	Capture   media.CaptureProvider
	Engine    MediaEngine
	Sink      media.ViewSink
}

// Orchestrator is the single subscriber of the session topic for one local
// participant. It is used once: Run joins, and returning from Run leaves.
type Orchestrator struct {
	cfg   Config
	local protocol.ParticipantID

	registry *Registry
	runCtx   context.Context

	events    chan func()
	done      chan struct{}
	leaveCh   chan struct{}
	leaveOnce sync.Once
	started   atomic.Bool

	// spawn runs blocking engine work off the loop.
	spawn func(func())
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.LocalID == "":
		return nil, errors.New("session: local id is required")
	case cfg.Topic == "":
		return nil, errors.New("session: topic is required")
	case cfg.Transport == nil:
		return nil, errors.New("session: broadcast transport is required")
	case cfg.Engine == nil:
		return nil, errors.New("session: media engine is required")
	case cfg.Sink == nil:
		return nil, errors.New("session: view sink is required")
	case cfg.Capture == nil && !cfg.ReceiveOnly:
		return nil, errors.New("session: capture provider is required unless receive-only")
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSONCodec{}
	}

	return &Orchestrator{
		cfg:     cfg,
		local:   cfg.LocalID,
		events:  make(chan func(), eventQueueSize),
		done:    make(chan struct{}),
		leaveCh: make(chan struct{}),
		spawn:   func(fn func()) { go fn() },
	}, nil
}

// LocalID returns the local participant id.
func (o *Orchestrator) LocalID() protocol.ParticipantID { return o.local }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run acquires local media, subscribes to the topic, announces the local
// participant and processes events until ctx is done, Leave is called or the
// subscription ends. Every link is closed and Leave is published on return.
//
// A capture failure is returned wrapped in ErrCapture unless receive-only
// mode is enabled. A subscription that ends on its own yields ErrClosed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyJoined
	}
	defer close(o.done)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox, err := o.join(subCtx)
	if err != nil {
		return err
	}
	defer o.registry.LocalStream().Stop()

	for {
		select {
		case data, ok := <-inbox:
			if !ok {
				o.leave(ctx)
				// Transports close the subscription when ctx is cancelled.
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			}
			o.receive(data)

		case ev := <-o.events:
			ev()

		case <-o.leaveCh:
			o.leave(ctx)
			return nil

		case <-ctx.Done():
			o.leave(ctx)
			return nil
		}
	}
}

// Leave asks Run to close every link, publish Leave and return.
func (o *Orchestrator) Leave() {
	o.leaveOnce.Do(func() { close(o.leaveCh) })
}

// Peers returns the state of every known remote. It returns nil before Run
// has started and once Run has returned.
func (o *Orchestrator) Peers() map[protocol.ParticipantID]LinkState {
	if !o.started.Load() {
		return nil
	}
	result := make(chan map[protocol.ParticipantID]LinkState, 1)
	query := func() {
		peers := make(map[protocol.ParticipantID]LinkState, o.registry.Len())
		for _, l := range o.registry.All() {
			peers[l.remote] = l.state
		}
		result <- peers
	}

	select {
	case o.events <- query:
	case <-o.done:
		return nil
	}
	select {
	case peers := <-result:
		return peers
	case <-o.done:
		return nil
	}
}

func (o *Orchestrator) join(ctx context.Context) (<-chan []byte, error) {
	stream, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}

	o.registry = NewRegistry(o.local, stream)
	o.runCtx = ctx

	inbox, err := o.cfg.Transport.Subscribe(ctx, o.cfg.Topic)
	if err != nil {
		stream.Stop()
		return nil, fmt.Errorf("subscribe %s: %w", o.cfg.Topic, err)
	}

	var announce protocol.Message = &protocol.Join{From: o.local}
	if o.cfg.Protocol == RollCallJoin {
		announce = protocol.NewRollCall(o.local, nil)
	}
	if err := o.publish(ctx, announce); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("announce: %w", err)
	}

	util.LogSuccess("[%08x] joined %s as %s (%s)", util.ShortID(string(o.local)), o.cfg.Topic, o.local, o.cfg.Protocol)
	return inbox, nil
}

func (o *Orchestrator) acquire(ctx context.Context) (*media.LocalStream, error) {
	if o.cfg.Capture == nil {
		util.LogInfo("no capture configured, joining receive-only")
		return nil, nil
	}

	stream, err := o.cfg.Capture.Acquire(ctx, o.cfg.Constraints)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, ErrCapture) {
		err = fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if o.cfg.ReceiveOnly {
		util.LogWarning("capture failed, joining receive-only: %v", err)
		return nil, nil
	}
	return nil, err
}

func (o *Orchestrator) leave(ctx context.Context) {
	for _, l := range o.registry.All() {
		o.closeLink(l, StateClosed)
	}

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer cancel()
	if err := o.publish(leaveCtx, &protocol.Leave{From: o.local}); err != nil {
		util.LogWarning("failed to publish leave: %v", err)
	}

	o.registry.Clear()
	util.LogInfo("[%08x] left %s", util.ShortID(string(o.local)), o.cfg.Topic)
}

// post queues ev for the loop. Events posted after Run returns are dropped.
func (o *Orchestrator) post(ev func()) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (o *Orchestrator) publish(ctx context.Context, m protocol.Message) error {
	data, err := o.cfg.Codec.Encode(m)
	if err != nil {
		return err
	}
	return o.cfg.Transport.Publish(ctx, o.cfg.Topic, data)
}

// send publishes from inside the loop. Failures are logged; the protocol
// tolerates lost messages.
func (o *Orchestrator) send(m protocol.Message) {
	if err := o.publish(o.runCtx, m); err != nil {
		util.LogWarning("failed to publish %s: %v", m.Type(), err)
	}
}

// rollCall builds our RollCall. extra is included so the recipient never
// needs to reply to it.
func (o *Orchestrator) rollCall(extra protocol.ParticipantID) *protocol.RollCall {
	return protocol.NewRollCall(o.local, append(o.registry.IDs(), extra))
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (o *Orchestrator) receive(data []byte) {
	m, err := o.cfg.Codec.Decode(data)
	if err != nil {
		util.LogWarning("dropped signal message: %v", err)
		return
	}
	o.handle(m)
}

func (o *Orchestrator) handle(m protocol.Message) {
	if m.Sender() == o.local {
		return
	}
	if a, ok := m.(protocol.Addressed); ok && a.Recipient() != o.local {
		return
	}

	util.LogTrace("[%08x] <- %s from %s", util.ShortID(string(m.Sender())), m.Type(), m.Sender())

	switch m := m.(type) {
	case *protocol.Join:
		o.onJoin(m)
	case *protocol.RollCall:
		o.onRollCall(m)
	case *protocol.Offer:
		o.onOffer(m)
	case *protocol.Answer:
		o.onAnswer(m)
	case *protocol.IceCandidate:
		o.onCandidate(m)
	case *protocol.Leave:
		o.onLeave(m)
	}
}

func (o *Orchestrator) onJoin(m *protocol.Join) {
	link, created := o.discover(m.From)
	if !created {
		util.LogDebug("[%08x] duplicate join from %s ignored", util.ShortID(string(m.From)), m.From)
		return
	}
	// The newcomer does not know us yet; as answerer we have to tell it so
	// that it starts the offer.
	if o.live(link) && link.role == negotiation.Answerer {
		o.send(o.rollCall(m.From))
	}
}

func (o *Orchestrator) onRollCall(m *protocol.RollCall) {
	o.discover(m.From)
	if !m.Knows(o.local) {
		o.send(o.rollCall(m.From))
	}
}

func (o *Orchestrator) onOffer(m *protocol.Offer) {
	link, _ := o.discover(m.From)
	if !o.live(link) {
		return
	}
	short := util.ShortID(string(m.From))

	if negotiation.ResolveOffer(o.local, m.From) == negotiation.IgnoreRemoteOffer {
		util.LogWarning("[%08x] glare: ignoring offer from %s, local side offers", short, m.From)
		return
	}
	if link.remoteSet {
		util.LogDebug("[%08x] duplicate offer from %s ignored", short, m.From)
		return
	}

	// Abandon any offer of our own that is still being generated.
	gen := link.nextGen()

	if err := link.conn.SetRemoteOffer(m.SDP); err != nil {
		o.failLink(link, negotiationError("apply offer", m.From, err))
		return
	}
	link.remoteSet = true
	o.flushCandidates(link)

	util.LogDebug("[%08x] creating answer for %s", short, m.From)
	conn := link.conn
	o.spawn(func() {
		sdp, err := conn.CreateAnswer()
		o.post(func() { o.answerReady(link, gen, sdp, err) })
	})
}

func (o *Orchestrator) onAnswer(m *protocol.Answer) {
	short := util.ShortID(string(m.From))

	link, ok := o.registry.Get(m.From)
	if !ok || !o.live(link) {
		util.LogDebug("[%08x] answer from unknown remote %s dropped", short, m.From)
		return
	}
	if link.role != negotiation.Offerer || !link.localSet || link.remoteSet {
		util.LogDebug("[%08x] unexpected answer from %s ignored", short, m.From)
		return
	}

	if err := link.conn.SetRemoteAnswer(m.SDP); err != nil {
		o.failLink(link, negotiationError("apply answer", m.From, err))
		return
	}
	link.remoteSet = true
	o.flushCandidates(link)
}

func (o *Orchestrator) onCandidate(m *protocol.IceCandidate) {
	link, _ := o.discover(m.From)
	if !o.live(link) {
		return
	}
	if !link.remoteSet {
		link.pending = append(link.pending, m.Candidate)
		util.LogTrace("[%08x] buffered candidate from %s (%d pending)", util.ShortID(string(m.From)), m.From, len(link.pending))
		return
	}
	o.applyCandidate(link, m.Candidate)
}

func (o *Orchestrator) onLeave(m *protocol.Leave) {
	link, ok := o.registry.Get(m.From)
	if !ok {
		return
	}
	util.LogInfo("[%08x] %s left", util.ShortID(string(m.From)), m.From)
	o.closeLink(link, StateClosed)
}

// ---------------------------------------------------------------------------
// Link lifecycle
// ---------------------------------------------------------------------------

// discover returns the link for remote, creating and starting it on first
// contact.
func (o *Orchestrator) discover(remote protocol.ParticipantID) (*PeerLink, bool) {
	link, created := o.registry.LookupOrCreate(remote)
	if created {
		o.startLink(link)
	}
	return link, created
}

// live reports whether l is still the registered, non-terminal link for its
// remote. Completions for anything else are stale.
func (o *Orchestrator) live(l *PeerLink) bool {
	cur, ok := o.registry.Get(l.remote)
	return ok && cur == l && !l.state.Terminal()
}

func (o *Orchestrator) startLink(l *PeerLink) {
	short := util.ShortID(string(l.remote))

	conn, err := o.cfg.Engine.NewLink(o.registry.LocalStream())
	if err != nil {
		o.failLink(l, negotiationError("create connection", l.remote, err))
		return
	}
	l.conn = conn

	conn.OnICECandidate(func(c string) {
		o.post(func() { o.onLocalCandidate(l, c) })
	})
	conn.OnConnectionStateChange(func(s ConnState) {
		o.post(func() { o.onConnState(l, s) })
	})
	conn.OnRemoteTrack(func(t media.RemoteTrack) {
		o.post(func() { o.onRemoteTrack(l, t) })
	})

	l.transition(StateNegotiating)
	util.LogInfo("[%08x] link with %s created as %s", short, l.remote, l.role)

	if l.role == negotiation.Offerer {
		o.beginOffer(l)
	}
}

func (o *Orchestrator) beginOffer(l *PeerLink) {
	gen := l.nextGen()
	conn := l.conn

	util.LogDebug("[%08x] creating offer for %s", util.ShortID(string(l.remote)), l.remote)
	o.spawn(func() {
		sdp, err := conn.CreateOffer()
		o.post(func() { o.offerReady(l, gen, sdp, err) })
	})
}

func (o *Orchestrator) offerReady(l *PeerLink, gen uint64, sdp string, err error) {
	if !o.live(l) || l.gen != gen {
		util.LogDebug("[%08x] stale offer for %s dropped", util.ShortID(string(l.remote)), l.remote)
		return
	}
	if err != nil {
		o.failLink(l, negotiationError("create offer", l.remote, err))
		return
	}
	l.localSet = true
	o.send(&protocol.Offer{From: o.local, To: l.remote, SDP: sdp})
}

func (o *Orchestrator) answerReady(l *PeerLink, gen uint64, sdp string, err error) {
	if !o.live(l) || l.gen != gen {
		util.LogDebug("[%08x] stale answer for %s dropped", util.ShortID(string(l.remote)), l.remote)
		return
	}
	if err != nil {
		o.failLink(l, negotiationError("create answer", l.remote, err))
		return
	}
	l.localSet = true
	o.send(&protocol.Answer{From: o.local, To: l.remote, SDP: sdp})
}

func (o *Orchestrator) onLocalCandidate(l *PeerLink, candidate string) {
	if !o.live(l) {
		return
	}
	o.send(&protocol.IceCandidate{From: o.local, To: l.remote, Candidate: candidate})
}

func (o *Orchestrator) onConnState(l *PeerLink, s ConnState) {
	if !o.live(l) {
		return
	}
	short := util.ShortID(string(l.remote))
	util.LogDebug("[%08x] connection with %s: %s", short, l.remote, s)

	switch s {
	case ConnConnected:
		if l.state != StateNegotiating {
			return
		}
		l.transition(StateConnected)
		util.LogSuccess("[%08x] connected to %s", short, l.remote)
		if !l.attached {
			l.attached = true
			o.cfg.Sink.Attach(l.remote, l.stream)
		}

	case ConnDisconnected, ConnFailed, ConnClosed:
		o.failLink(l, &LinkError{Op: "connection", Remote: l.remote, Err: fmt.Errorf("%w: %s", ErrLinkFailure, s)})
	}
}

func (o *Orchestrator) onRemoteTrack(l *PeerLink, t media.RemoteTrack) {
	if !o.live(l) {
		return
	}
	l.stream.AddTrack(t)
}

func (o *Orchestrator) flushCandidates(l *PeerLink) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		o.applyCandidate(l, c)
	}
}

func (o *Orchestrator) applyCandidate(l *PeerLink, candidate string) {
	if err := l.conn.AddICECandidate(candidate); err != nil {
		util.LogWarning("[%08x] candidate from %s rejected: %v", util.ShortID(string(l.remote)), l.remote, err)
	}
}

// failLink is the single exit for per-link errors.
func (o *Orchestrator) failLink(l *PeerLink, err error) {
	util.LogError("[%08x] %v", util.ShortID(string(l.remote)), err)
	o.closeLink(l, StateFailed)
}

// closeLink drives l to a terminal state, releases its connection, tears
// down its view and forgets it.
func (o *Orchestrator) closeLink(l *PeerLink, to LinkState) {
	if err := l.transition(to); err != nil {
		util.LogDebug("%v", err)
		return
	}
	l.nextGen()
	l.pending = nil

	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			util.LogDebug("[%08x] close connection: %v", util.ShortID(string(l.remote)), err)
		}
	}
	o.cfg.Sink.Detach(l.remote)

	if cur, ok := o.registry.Get(l.remote); ok && cur == l {
		o.registry.Remove(l.remote)
	}
}
