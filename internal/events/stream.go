// Package events is the ordered, multi-subscriber event stream the
// orchestrator publishes into and the transports drain.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/CosmoTheDev/zapmcp/models"
)

const (
	DefaultBufferSize  = 64
	DefaultSlowTimeout = 5 * time.Second
)

// Options configures a Stream. Zero values select the defaults.
type Options struct {
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int
	// SlowTimeout is how long Publish blocks on one full subscriber before
	// evicting it.
	SlowTimeout time.Duration

	// OnPublish and OnEvict are optional observers, called with the stream
	// lock held. They must not call back into the stream.
	OnPublish func(models.Event)
	OnEvict   func()
	// OnSubscribers reports the subscriber count after every change.
	OnSubscribers func(n int)
}

// Stream fans events out to every active subscriber in sequence order.
//
// A full subscriber buffer blocks the producer for at most SlowTimeout. When
// that expires the subscriber is evicted and its channel closed, so a
// subscriber that stays attached never observes a gap.
type Stream struct {
	opts Options

	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscription]struct{}
	closed bool
	now    func() time.Time
}

// New creates a Stream.
func New(opts Options) *Stream {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SlowTimeout <= 0 {
		opts.SlowTimeout = DefaultSlowTimeout
	}
	return &Stream{
		opts: opts,
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscription is one consumer's position in the stream. It only sees
// events published after Subscribe returned.
type Subscription struct {
	stream  *Stream
	ch      chan models.Event
	done    chan struct{}
	once    sync.Once
	evicted bool // guarded by stream.mu
	chOpen  bool // guarded by stream.mu
}

// Subscribe registers a new consumer. The caller must Close it.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		ch:     make(chan models.Event, s.opts.BufferSize),
		done:   make(chan struct{}),
		chOpen: true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.chOpen = false
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	s.reportSubscribers()
	return sub
}

// Events returns the receive channel. It is closed when the subscription is
// closed, evicted, or the stream shuts down.
func (sub *Subscription) Events() <-chan models.Event {
	return sub.ch
}

// Evicted reports whether the stream dropped this subscriber for being slow.
func (sub *Subscription) Evicted() bool {
	sub.stream.mu.Lock()
	defer sub.stream.mu.Unlock()
	return sub.evicted
}

// Close detaches the subscriber. It is safe to call more than once and never
// blocks behind a publisher waiting on this subscriber.
func (sub *Subscription) Close() {
	sub.once.Do(func() { close(sub.done) })
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach(sub)
}

// Publish appends an event and delivers it to all current subscribers.
// Publishes are serialised, so delivery order equals sequence order.
func (s *Stream) Publish(typ models.EventType, scanID string, payload any) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Debug("events: publish after close dropped", "type", typ, "scan_id", scanID)
		return models.Event{}
	}

	s.seq++
	evt := models.Event{
		Seq:     s.seq,
		Type:    typ,
		ScanID:  scanID,
		Time:    s.now().UTC(),
		Payload: payload,
	}
	if s.opts.OnPublish != nil {
		s.opts.OnPublish(evt)
	}

	for sub := range s.subs {
		s.deliver(sub, evt)
	}
	return evt
}

// deliver is called with s.mu held.
func (s *Stream) deliver(sub *Subscription, evt models.Event) {
	select {
	case sub.ch <- evt:
		return
	case <-sub.done:
		s.detach(sub)
		return
	default:
	}

	timer := time.NewTimer(s.opts.SlowTimeout)
	defer timer.Stop()
	select {
	case sub.ch <- evt:
	case <-sub.done:
		s.detach(sub)
	case <-timer.C:
		slog.Warn("events: evicting slow subscriber",
			"seq", evt.Seq, "buffer", cap(sub.ch), "timeout", s.opts.SlowTimeout)
		sub.evicted = true
		s.detach(sub)
		if s.opts.OnEvict != nil {
			s.opts.OnEvict()
		}
	}
}

// detach is called with s.mu held.
func (s *Stream) detach(sub *Subscription) {
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		s.reportSubscribers()
	}
	if sub.chOpen {
		sub.chOpen = false
		close(sub.ch)
	}
}

// Subscribers returns the number of attached subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches every subscriber. Later publishes are dropped. It is meant
// for process exit only.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		s.detach(sub)
	}
}

func (s *Stream) reportSubscribers() {
	if s.opts.OnSubscribers != nil {
		s.opts.OnSubscribers(len(s.subs))
	}
}
