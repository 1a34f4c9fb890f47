package compaction

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/runway/pkg/event"
)

// buildLog creates a log where user events sit at the given indices and
// every other slot is an agent event.
func buildLog(length int, userIndices ...int) []*event.Event {
	users := make(map[int]bool, len(userIndices))
	for _, i := range userIndices {
		users[i] = true
	}

	log := make([]*event.Event, 0, length)
	for i := 0; i < length; i++ {
		author := "assistant"
		if users[i] {
			author = event.UserAuthor
		}
		ev := event.New("inv", author)
		ev.Content = &event.Content{Text: fmt.Sprintf("event %d", i)}
		log = append(log, ev)
	}
	return log
}

func TestBoundary(t *testing.T) {
	t.Run("should preserve the last overlap user turns", func(t *testing.T) {
		log := buildLog(14, 0, 3, 6, 9, 12)

		boundary, due := Boundary(log, Config{Interval: 5, Overlap: 2})
		require.True(t, due)
		assert.Equal(t, 9, boundary, "everything before the 2nd-from-last user event is compacted")
	})

	t.Run("should compact the whole log with zero overlap", func(t *testing.T) {
		log := buildLog(14, 0, 3, 6, 9, 12)

		boundary, due := Boundary(log, Config{Interval: 5, Overlap: 0})
		require.True(t, due)
		assert.Equal(t, len(log), boundary)
	})

	t.Run("should do nothing off the interval", func(t *testing.T) {
		log := buildLog(10, 0, 3, 6)

		_, due := Boundary(log, Config{Interval: 5, Overlap: 2})
		assert.False(t, due)
	})

	t.Run("should do nothing without user turns", func(t *testing.T) {
		log := buildLog(4)

		_, due := Boundary(log, Config{Interval: 1, Overlap: 0})
		assert.False(t, due)
	})

	t.Run("should do nothing when overlap swallows the history", func(t *testing.T) {
		log := buildLog(6, 0, 3)

		_, due := Boundary(log, Config{Interval: 2, Overlap: 2})
		assert.False(t, due)
	})

	t.Run("should do nothing with a zero interval", func(t *testing.T) {
		log := buildLog(6, 0, 3)

		_, due := Boundary(log, Config{Interval: 0, Overlap: 0})
		assert.False(t, due)
	})
}

type stubSummarizer struct {
	summary  *event.Content
	err      error
	received []*event.Event
}

func (s *stubSummarizer) SummarizeEvents(ctx context.Context, events []*event.Event) (*event.Content, error) {
	s.received = events
	return s.summary, s.err
}

func TestTriggerMaybeCompact(t *testing.T) {
	ctx := context.Background()

	t.Run("should produce a compaction event covering the prefix", func(t *testing.T) {
		stub := &stubSummarizer{summary: &event.Content{Text: "the gist"}}
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, stub, zerolog.Nop())
		log := buildLog(14, 0, 3, 6, 9, 12)

		ev := trigger.MaybeCompact(ctx, "inv-9", log)
		require.NotNil(t, ev)
		require.NotNil(t, ev.Actions.Compaction)
		assert.Equal(t, 0, ev.Actions.Compaction.StartIndex)
		assert.Equal(t, 9, ev.Actions.Compaction.EndIndex)
		assert.Equal(t, "the gist", ev.Actions.Compaction.Summary.Text)
		assert.True(t, ev.Actions.SkipSummarization, "compaction events never feed later summaries")
		assert.Len(t, stub.received, 9)
	})

	t.Run("should exclude skip-summarization events from the summarizer input", func(t *testing.T) {
		stub := &stubSummarizer{summary: &event.Content{Text: "the gist"}}
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, stub, zerolog.Nop())
		log := buildLog(14, 0, 3, 6, 9, 12)
		log[1].Actions.SkipSummarization = true
		log[4].Actions.SkipSummarization = true

		ev := trigger.MaybeCompact(ctx, "inv-9", log)
		require.NotNil(t, ev)
		assert.Len(t, stub.received, 7)
		for _, received := range stub.received {
			assert.False(t, received.Actions.SkipSummarization)
		}
	})

	t.Run("should return nil when not due", func(t *testing.T) {
		stub := &stubSummarizer{summary: &event.Content{Text: "the gist"}}
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, stub, zerolog.Nop())

		ev := trigger.MaybeCompact(ctx, "inv-1", buildLog(4, 0))
		assert.Nil(t, ev)
		assert.Nil(t, stub.received)
	})

	t.Run("should swallow summarizer errors", func(t *testing.T) {
		stub := &stubSummarizer{err: fmt.Errorf("model unavailable")}
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, stub, zerolog.Nop())

		ev := trigger.MaybeCompact(ctx, "inv-9", buildLog(14, 0, 3, 6, 9, 12))
		assert.Nil(t, ev)
	})

	t.Run("should ignore an empty summary", func(t *testing.T) {
		stub := &stubSummarizer{summary: &event.Content{Text: ""}}
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, stub, zerolog.Nop())

		ev := trigger.MaybeCompact(ctx, "inv-9", buildLog(14, 0, 3, 6, 9, 12))
		assert.Nil(t, ev)
	})

	t.Run("should do nothing without a summarizer", func(t *testing.T) {
		trigger := NewTrigger(Config{Interval: 5, Overlap: 2}, nil, zerolog.Nop())

		ev := trigger.MaybeCompact(ctx, "inv-9", buildLog(14, 0, 3, 6, 9, 12))
		assert.Nil(t, ev)
	})
}
