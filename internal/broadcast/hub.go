package broadcast

import (
	"context"
	"slices"
	"sync"
)

// Hub is an in-process Transport. Publish never blocks on a slow subscriber:
// each subscriber owns an unbounded queue drained by its own goroutine.
type Hub struct {
	mu     sync.Mutex
	topics map[string][]*subscriber
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string][]*subscriber)}
}

// Publish enqueues data for every subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	for _, s := range h.topics[topic] {
		s.push(slices.Clone(data))
	}
	return nil
}

// Subscribe registers a new subscriber on topic.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	s := newSubscriber()
	h.topics[topic] = append(h.topics[topic], s)
	h.mu.Unlock()

	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			h.remove(topic, s)
		case <-s.done:
		}
	}()

	return s.out, nil
}

// Subscribers returns the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.topics {
		for _, s := range subs {
			s.stop()
		}
	}
	h.topics = nil
	return nil
}

func (h *Hub) remove(topic string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.topics[topic] = slices.DeleteFunc(h.topics[topic], func(x *subscriber) bool { return x == s })
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
	s.stop()
}

// ---------------------------------------------------------------------------
// subscriber
// ---------------------------------------------------------------------------

type subscriber struct {
	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}

	out      chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// pump forwards queued messages to out in order, closing out on stop.
func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, data := range batch {
			select {
			case s.out <- data:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}
