package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/runway/pkg/event"
)

func noopRun(ctx context.Context, inv *Invocation, out *event.Stream) {}

func buildTree() (root, billing, support Agent) {
	billing = NewCustom("billing", "Handles billing questions", noopRun)
	support = NewCustom("support", "Handles support questions", noopRun)
	root = NewCustom("root", "Dispatcher", noopRun, billing, support)
	return root, billing, support
}

func TestFind(t *testing.T) {
	root, billing, _ := buildTree()

	assert.Equal(t, root, Find(root, "root"))
	assert.Equal(t, billing, Find(root, "billing"))
	assert.Nil(t, Find(root, "unknown"))
	assert.Nil(t, Find(root, ""))
	assert.Nil(t, Find(nil, "root"))
}

func userEvent(text string) *event.Event {
	ev := event.New("inv", event.UserAuthor)
	ev.Content = &event.Content{Role: "user", Text: text}
	return ev
}

func agentEvent(author, transferTo string) *event.Event {
	ev := event.New("inv", author)
	ev.Actions.TransferTo = transferTo
	return ev
}

func TestResolveActive(t *testing.T) {
	root, billing, support := buildTree()

	t.Run("should return root for an empty log", func(t *testing.T) {
		assert.Equal(t, root, ResolveActive(root, nil))
	})

	t.Run("should return root when only the user spoke", func(t *testing.T) {
		log := []*event.Event{userEvent("hello")}
		assert.Equal(t, root, ResolveActive(root, log))
	})

	t.Run("should return the last agent that spoke", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", ""),
			userEvent("thanks"),
		}
		assert.Equal(t, billing, ResolveActive(root, log))
	})

	t.Run("should honor a hand-off over the author of a later event", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", "support"),
		}
		assert.Equal(t, support, ResolveActive(root, log))
	})

	t.Run("should keep control with the transfer target once it spoke", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", "support"),
			agentEvent("support", ""),
		}
		assert.Equal(t, support, ResolveActive(root, log))
	})

	t.Run("should skip authors that left the tree", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", ""),
			agentEvent("retired", ""),
		}
		assert.Equal(t, billing, ResolveActive(root, log))
	})

	t.Run("should ignore hand-offs to unknown agents", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", "ghost"),
		}
		assert.Equal(t, billing, ResolveActive(root, log))
	})

	t.Run("should be deterministic over the same log", func(t *testing.T) {
		log := []*event.Event{
			userEvent("hello"),
			agentEvent("billing", "support"),
			agentEvent("support", ""),
			userEvent("more"),
		}
		first := ResolveActive(root, log)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, ResolveActive(root, log))
		}
	})
}

func TestCustomAgentRun(t *testing.T) {
	a := NewCustom("echo", "Echoes the user message", func(ctx context.Context, inv *Invocation, out *event.Stream) {
		ev := event.New(inv.InvocationID, "echo")
		ev.Content = &event.Content{Text: inv.UserContent.Text}
		ev.Final = true
		out.Write(ev)
	})

	stream := a.Run(context.Background(), &Invocation{
		InvocationID: "inv-1",
		UserContent:  &event.Content{Text: "ping"},
	})

	events, err := stream.Drain()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Text())
	assert.True(t, events[0].Final)
}
