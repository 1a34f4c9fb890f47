package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/provider"
)

const summarizerInstruction = "You condense conversation transcripts. Produce a concise third-person summary that preserves facts, decisions and open tasks. Output only the summary text."

// LLMSummarizer summarizes events with a model provider.
type LLMSummarizer struct {
	provider  provider.LLMProvider
	model     string
	maxTokens int
}

// NewLLMSummarizer creates a provider-backed summarizer.
func NewLLMSummarizer(p provider.LLMProvider, model string, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMSummarizer{provider: p, model: model, maxTokens: maxTokens}
}

// SummarizeEvents renders the events as a transcript and asks the model for
// a summary.
func (s *LLMSummarizer) SummarizeEvents(ctx context.Context, events []*event.Event) (*event.Content, error) {
	var sb strings.Builder
	for _, ev := range events {
		text := ev.Text()
		if text == "" {
			continue
		}
		sb.WriteString(ev.Author)
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return nil, nil
	}

	response, err := s.provider.Call(ctx, provider.Request{
		Model:        s.model,
		SystemPrompt: summarizerInstruction,
		Messages: []provider.Message{
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer call failed: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil, nil
	}

	return &event.Content{Role: "assistant", Text: response.Content}, nil
}
