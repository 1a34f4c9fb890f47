package session

import (
	"time"

	"github.com/harun/runway/pkg/event"
)

// Session is the working copy of one conversation: an ordered, append-only
// event log plus a key-value state map. The copy is owned by at most one
// in-flight invocation; durable persistence happens per event through a
// Service.
type Session struct {
	AppName   string
	UserID    string
	ID        string
	Events    []*event.Event
	State     map[string]interface{}
	UpdatedAt time.Time
}

// Apply merges the event's state delta into the session state and then
// appends the event to the log. Delta application happens before the append
// so a later agent step always observes earlier mutations, even while the
// durable write for the same event is still in flight.
func (s *Session) Apply(ev *event.Event) {
	if len(ev.Actions.StateDelta) > 0 {
		if s.State == nil {
			s.State = make(map[string]interface{})
		}
		for k, v := range ev.Actions.StateDelta {
			s.State[k] = v
		}
	}
	s.Events = append(s.Events, ev)
	s.UpdatedAt = time.Now()
}

// LastCompaction returns the most recent compaction event in the log, or nil.
func (s *Session) LastCompaction() *event.Event {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].Actions.Compaction != nil {
			return s.Events[i]
		}
	}
	return nil
}
