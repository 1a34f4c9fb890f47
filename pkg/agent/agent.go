package agent

import (
	"context"

	"github.com/harun/runway/pkg/artifact"
	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/session"
)

// Agent is one node in an agent tree. Run produces an event stream for a
// single invocation; the runner owns persistence and relay of those events.
type Agent interface {
	Name() string
	Description() string
	SubAgents() []Agent
	Run(ctx context.Context, inv *Invocation) *event.Stream
}

// RunConfig carries per-invocation knobs. It is passed by value so a
// hand-off can rebuild it without mutating the caller's copy.
type RunConfig struct {
	Streaming     bool
	ToolDecisions map[string]bool // tool name -> approved
	CachedContent string          // provider cache handle for this invocation
}

// Invocation is the per-run context handed to an agent: the working session,
// the triggering user content and the run knobs.
type Invocation struct {
	InvocationID string
	AgentName    string
	Session      *session.Session
	UserContent  *event.Content
	RunConfig    RunConfig
	Artifacts    artifact.Service

	// turnState is the running agent's view of session state: a snapshot
	// taken before the agent emits its first event, plus state deltas from
	// earlier tool calls in the current turn. The session working copy
	// itself is mutated only by the pipeline.
	turnState map[string]interface{}
}

// StateValue returns the session state value for key as the running agent
// sees it. State deltas produced earlier in the current turn are visible
// here before the pipeline has applied them to the session working copy.
func (inv *Invocation) StateValue(key string) (interface{}, bool) {
	if inv.turnState == nil {
		inv.beginTurn()
	}
	v, ok := inv.turnState[key]
	return v, ok
}

// beginTurn snapshots the session state into the invocation. It must run on
// the agent goroutine before the first event is written; once events flow,
// the session working copy belongs to the pipeline.
func (inv *Invocation) beginTurn() {
	inv.turnState = make(map[string]interface{})
	if inv.Session == nil {
		return
	}
	for k, v := range inv.Session.State {
		inv.turnState[k] = v
	}
}

// mergeTurnState folds a state delta into the agent's view of the state.
func (inv *Invocation) mergeTurnState(delta map[string]interface{}) {
	if inv.turnState == nil {
		inv.beginTurn()
	}
	for k, v := range delta {
		inv.turnState[k] = v
	}
}

// Find walks the tree rooted at root and returns the agent with the given
// name, or nil.
func Find(root Agent, name string) Agent {
	if root == nil || name == "" {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := Find(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// ResolveActive picks the agent that should handle the next invocation from
// the session's event log. It scans newest to oldest: a hand-off target that
// still resolves in the tree wins over the event's author, user events carry
// no authorship, and an author that left the tree is skipped. With no match
// the root handles the turn.
func ResolveActive(root Agent, events []*event.Event) Agent {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Actions.TransferTo != "" {
			if target := Find(root, ev.Actions.TransferTo); target != nil {
				return target
			}
		}
		if ev.IsUser() {
			continue
		}
		if author := Find(root, ev.Author); author != nil {
			return author
		}
	}
	return root
}

// RunFunc is the body of a Custom agent.
type RunFunc func(ctx context.Context, inv *Invocation, out *event.Stream)

// Custom is a function-backed agent. The run function writes events to the
// stream and returns; Custom closes the stream when it is done.
type Custom struct {
	name        string
	description string
	subAgents   []Agent
	run         RunFunc
}

// NewCustom creates a function-backed agent.
func NewCustom(name, description string, run RunFunc, subAgents ...Agent) *Custom {
	return &Custom{
		name:        name,
		description: description,
		subAgents:   subAgents,
		run:         run,
	}
}

// Name returns the agent name.
func (c *Custom) Name() string { return c.name }

// Description returns the agent description.
func (c *Custom) Description() string { return c.description }

// SubAgents returns the agent's children.
func (c *Custom) SubAgents() []Agent { return c.subAgents }

// Run executes the agent body on its own goroutine and returns the stream.
func (c *Custom) Run(ctx context.Context, inv *Invocation) *event.Stream {
	out := event.NewStream()
	go func() {
		defer out.Close()
		c.run(ctx, inv, out)
	}()
	return out
}
