package event

import "sync"

// Stream is a pull-based event sequence. The producer blocks in Write until
// the consumer pulls with Next, so suspension points line up with external
// calls on the producer side. A stream terminates either cleanly (Close) or
// with a terminal error (CloseWithError); after Next returns false, Err
// reports which.
type Stream struct {
	items    chan *Event
	canceled chan struct{}

	closeOnce  sync.Once
	cancelOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream creates an unbuffered stream.
func NewStream() *Stream {
	return &Stream{
		items:    make(chan *Event),
		canceled: make(chan struct{}),
	}
}

// Write delivers one event to the consumer, blocking until it is pulled.
// It returns false if the consumer canceled the stream; producers should
// stop on false.
func (s *Stream) Write(ev *Event) bool {
	select {
	case s.items <- ev:
		return true
	case <-s.canceled:
		return false
	}
}

// Close ends the stream normally. Safe to call once per producer; further
// Writes after Close panic, as with any closed channel.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.items)
	})
}

// CloseWithError ends the stream with a terminal error item.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// Next pulls the next event. ok is false once the stream is exhausted;
// check Err afterwards for a terminal error.
func (s *Stream) Next() (ev *Event, ok bool) {
	ev, ok = <-s.items
	return ev, ok
}

// Err returns the terminal error, if the stream ended with one.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel tells the producer to stop. Pending and future Writes return false.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.canceled)
	})
}

// Drain collects every remaining event until the stream ends and returns
// them together with the terminal error, if any.
func (s *Stream) Drain() ([]*Event, error) {
	var events []*Event
	for {
		ev, ok := s.Next()
		if !ok {
			return events, s.Err()
		}
		events = append(events, ev)
	}
}
