package media

import (
	"context"
	"sync"

	"github.com/pion/rtp"

	"github.com/1ureka/meshcall/internal/protocol"
	"github.com/1ureka/meshcall/internal/util"
)

// StatsSink is a headless view sink: it drains every remote track and feeds
// the received byte counts into a stats table.
type StatsSink struct {
	table *util.StatsTable

	mu    sync.Mutex
	views map[protocol.ParticipantID]context.CancelFunc
}

// NewStatsSink creates a sink reporting into table.
func NewStatsSink(table *util.StatsTable) *StatsSink {
	return &StatsSink{
		table: table,
		views: make(map[protocol.ParticipantID]context.CancelFunc),
	}
}

// Attach starts draining stream. A previous view for the same remote is
// replaced, so one remote never has two views.
func (s *StatsSink) Attach(remoteID protocol.ParticipantID, stream *RemoteStream) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, ok := s.views[remoteID]; ok {
		prev()
	}
	s.views[remoteID] = cancel
	s.mu.Unlock()

	stats := s.table.Get(string(remoteID))
	util.LogInfo("[%08x] view attached for %s", util.ShortID(string(remoteID)), remoteID)

	stream.OnTrack(func(t RemoteTrack) {
		stats.Tracks.Add(1)
		go drain(ctx, remoteID, t, stats)
	})
}

// Detach stops the view for remoteID.
func (s *StatsSink) Detach(remoteID protocol.ParticipantID) {
	s.mu.Lock()
	cancel, ok := s.views[remoteID]
	delete(s.views, remoteID)
	s.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	s.table.Remove(string(remoteID))
	util.LogInfo("[%08x] view detached for %s", util.ShortID(string(remoteID)), remoteID)
}

// Attached reports whether remoteID currently has a view.
func (s *StatsSink) Attached(remoteID protocol.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.views[remoteID]
	return ok
}

// drain reads RTP until the track ends or the view is detached. ReadRTP
// returns once the owning peer connection is closed.
func drain(ctx context.Context, remoteID protocol.ParticipantID, t RemoteTrack, stats *util.RemoteStats) {
	util.LogDebug("[%08x] receiving %s track %s", util.ShortID(string(remoteID)), t.Kind(), t.ID())

	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		stats.AddPacket(packetSize(pkt))
	}
}

func packetSize(pkt *rtp.Packet) int {
	if pkt == nil {
		return 0
	}
	return pkt.MarshalSize()
}
