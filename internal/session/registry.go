package session

import (
	"slices"
	"strings"

	"github.com/1ureka/meshcall/internal/media"
	"github.com/1ureka/meshcall/internal/protocol"
)

// Registry maps remote participants to their PeerLink. It is not safe for
// concurrent use; the orchestrator's event loop is its only user.
type Registry struct {
	local  protocol.ParticipantID
	stream *media.LocalStream
	links  map[protocol.ParticipantID]*PeerLink
}

// NewRegistry creates an empty registry. stream may be nil (receive-only).
func NewRegistry(local protocol.ParticipantID, stream *media.LocalStream) *Registry {
	return &Registry{
		local:  local,
		stream: stream,
		links:  make(map[protocol.ParticipantID]*PeerLink),
	}
}

func (r *Registry) LocalID() protocol.ParticipantID { return r.local }

func (r *Registry) LocalStream() *media.LocalStream { return r.stream }

// LookupOrCreate returns the link for remote, creating it in state New if
// none exists. created is true only for a new link.
func (r *Registry) LookupOrCreate(remote protocol.ParticipantID) (link *PeerLink, created bool) {
	if l, ok := r.links[remote]; ok {
		return l, false
	}
	l := newPeerLink(r.local, remote)
	r.links[remote] = l
	return l, true
}

// Get returns the link for remote, if any.
func (r *Registry) Get(remote protocol.ParticipantID) (*PeerLink, bool) {
	l, ok := r.links[remote]
	return l, ok
}

// Remove forgets remote. Removing an unknown id is a no-op.
func (r *Registry) Remove(remote protocol.ParticipantID) {
	delete(r.links, remote)
}

// All returns every link, ordered by remote id.
func (r *Registry) All() []*PeerLink {
	all := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		all = append(all, l)
	}
	slices.SortFunc(all, func(a, b *PeerLink) int {
		return strings.Compare(string(a.remote), string(b.remote))
	})
	return all
}

// IDs returns every known remote id, sorted.
func (r *Registry) IDs() []protocol.ParticipantID {
	ids := make([]protocol.ParticipantID, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int { return len(r.links) }

// Clear forgets every link.
func (r *Registry) Clear() {
	clear(r.links)
}
