package relay

import (
	"github.com/1ureka/meshcall/internal/util"
)

const sendBufferSize = 64

// publication is one message to fan out on a topic.
type publication struct {
	topic string
	data  []byte
}

// hub is the single goroutine owning every topic's subscriber set. The
// relay never looks inside a message: everything published on a topic goes
// to every subscriber of that topic, sender included.
type hub struct {
	topics map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan publication
	stats      chan chan Stats
}

// Stats is a snapshot of the hub.
type Stats struct {
	Topics  int `json:"topics"`
	Clients int `json:"clients"`
}

func newHub() *hub {
	return &hub{
		topics:     make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan publication, sendBufferSize),
		stats:      make(chan chan Stats),
	}
}

func (h *hub) run(done <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			subs, ok := h.topics[c.topic]
			if !ok {
				subs = make(map[*client]struct{})
				h.topics[c.topic] = subs
			}
			subs[c] = struct{}{}
			util.LogDebug("client %s joined %s (%d)", c.remote, c.topic, len(subs))

		case c := <-h.unregister:
			h.drop(c)

		case p := <-h.broadcast:
			for c := range h.topics[p.topic] {
				select {
				case c.send <- p.data:
				default:
					util.LogWarning("client %s on %s too slow, dropping", c.remote, p.topic)
					h.drop(c)
				}
			}

		case reply := <-h.stats:
			s := Stats{Topics: len(h.topics)}
			for _, subs := range h.topics {
				s.Clients += len(subs)
			}
			reply <- s

		case <-done:
			for _, subs := range h.topics {
				for c := range subs {
					close(c.send)
				}
			}
			h.topics = nil
			return
		}
	}
}

// drop removes c and closes its send channel, which stops its write pump.
func (h *hub) drop(c *client) {
	subs, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	close(c.send)
	if len(subs) == 0 {
		delete(h.topics, c.topic)
	}
	util.LogDebug("client %s left %s", c.remote, c.topic)
}
