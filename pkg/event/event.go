package event

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// UserAuthor is the reserved author string for caller-originated events.
const UserAuthor = "user"

// Content is a single piece of model or user content.
type Content struct {
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

// Usage tracks token consumption reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Compaction summarizes a prefix of the event log. The original events stay
// in the store; agents reading history substitute the summary for them.
type Compaction struct {
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"` // exclusive
	Summary    *Content `json:"summary"`
}

// Actions carries the side effects attached to an event. StateDelta is
// applied to the working session before the event is persisted.
type Actions struct {
	StateDelta        map[string]interface{} `json:"state_delta,omitempty"`
	TransferTo        string                 `json:"transfer_to,omitempty"`
	Escalate          bool                   `json:"escalate,omitempty"`
	SkipSummarization bool                   `json:"skip_summarization,omitempty"`
	Compaction        *Compaction            `json:"compaction,omitempty"`
}

// Event is the atomic unit of conversation history. Immutable once persisted.
type Event struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Author       string    `json:"author"`
	Content      *Content  `json:"content,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	Final        bool      `json:"final,omitempty"`
	Actions      Actions   `json:"actions"`
	Timestamp    time.Time `json:"timestamp"`
}

// New creates an event with a fresh ID and timestamp.
func New(invocationID, author string) *Event {
	return &Event{
		ID:           gonanoid.Must(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now(),
	}
}

// IsUser reports whether the event was authored by the caller.
func (e *Event) IsUser() bool {
	return e.Author == UserAuthor
}

// Text returns the event's content text, or "" when there is none.
func (e *Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text
}
