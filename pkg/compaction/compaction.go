package compaction

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/harun/runway/internal/observability"
	"github.com/harun/runway/pkg/event"
)

// Summarizer condenses a slice of events into summary content.
type Summarizer interface {
	SummarizeEvents(ctx context.Context, events []*event.Event) (*event.Content, error)
}

// Config holds the compaction knobs. Interval is the number of user turns
// between compactions; Overlap is how many of the most recent user turns
// must stay uncompacted.
type Config struct {
	Interval int
	Overlap  int
}

// Boundary decides whether the log is due for compaction and, if so, the
// exclusive end index of the prefix to compact. Compaction is due every
// Interval user turns; the boundary preserves the last Overlap user turns,
// or covers the whole log when Overlap is zero.
func Boundary(events []*event.Event, cfg Config) (int, bool) {
	if cfg.Interval <= 0 {
		return 0, false
	}

	var userIndices []int
	for i, ev := range events {
		if ev.IsUser() {
			userIndices = append(userIndices, i)
		}
	}

	turnCount := len(userIndices)
	if turnCount == 0 || turnCount%cfg.Interval != 0 {
		return 0, false
	}

	if cfg.Overlap == 0 {
		return len(events), true
	}
	if turnCount <= cfg.Overlap {
		return 0, false
	}
	return userIndices[turnCount-cfg.Overlap], true
}

// Trigger evaluates compaction after an invocation's stream has been fully
// persisted.
type Trigger struct {
	config     Config
	summarizer Summarizer
	logger     zerolog.Logger
}

// NewTrigger creates a compaction trigger.
func NewTrigger(config Config, summarizer Summarizer, logger zerolog.Logger) *Trigger {
	return &Trigger{
		config:     config,
		summarizer: summarizer,
		logger:     logger.With().Str("component", "compaction").Logger(),
	}
}

// MaybeCompact returns a compaction event for the log, or nil when the log
// is not due or the summarizer produced nothing. Summarizer failure is
// logged and swallowed; the caller's invocation is already complete.
func (t *Trigger) MaybeCompact(ctx context.Context, invocationID string, events []*event.Event) *event.Event {
	if t == nil || t.summarizer == nil {
		return nil
	}

	boundary, due := Boundary(events, t.config)
	if !due {
		return nil
	}

	slice := make([]*event.Event, 0, boundary)
	for _, ev := range events[:boundary] {
		if ev.Actions.SkipSummarization {
			continue
		}
		slice = append(slice, ev)
	}

	summary, err := t.summarizer.SummarizeEvents(ctx, slice)
	if err != nil {
		t.logger.Warn().Err(err).Int("boundary", boundary).Msg("Summarizer failed; skipping compaction")
		observability.RecordCompaction(false)
		return nil
	}
	if summary == nil || summary.Text == "" {
		t.logger.Debug().Int("boundary", boundary).Msg("Summarizer returned nothing; skipping compaction")
		return nil
	}

	ev := event.New(invocationID, "compaction")
	ev.Actions.SkipSummarization = true
	ev.Actions.Compaction = &event.Compaction{
		StartIndex: 0,
		EndIndex:   boundary,
		Summary:    summary,
	}
	observability.RecordCompaction(true)
	return ev
}
