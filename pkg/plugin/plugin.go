package plugin

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/harun/runway/pkg/agent"
	"github.com/harun/runway/pkg/event"
)

// Plugin hooks into the invocation lifecycle. Every method may return its
// zero value to mean "no opinion": BeforeRun returns non-nil content to
// short-circuit the run, OnUserMessage returns non-nil content to rewrite
// the incoming message, OnEvent returns a non-nil event to replace the one
// about to be persisted.
type Plugin interface {
	Name() string
	BeforeRun(ctx context.Context, inv *agent.Invocation) (*event.Content, error)
	OnUserMessage(ctx context.Context, inv *agent.Invocation, content *event.Content) (*event.Content, error)
	OnEvent(ctx context.Context, inv *agent.Invocation, ev *event.Event) (*event.Event, error)
	AfterRun(ctx context.Context, inv *agent.Invocation) error
}

// Base is a no-op Plugin for embedding.
type Base struct{}

func (Base) BeforeRun(ctx context.Context, inv *agent.Invocation) (*event.Content, error) {
	return nil, nil
}

func (Base) OnUserMessage(ctx context.Context, inv *agent.Invocation, content *event.Content) (*event.Content, error) {
	return nil, nil
}

func (Base) OnEvent(ctx context.Context, inv *agent.Invocation, ev *event.Event) (*event.Event, error) {
	return nil, nil
}

func (Base) AfterRun(ctx context.Context, inv *agent.Invocation) error {
	return nil
}

// Manager runs an ordered plugin chain.
type Manager struct {
	plugins []Plugin
	logger  zerolog.Logger
}

// NewManager creates a plugin manager.
func NewManager(logger zerolog.Logger, plugins ...Plugin) *Manager {
	return &Manager{
		plugins: plugins,
		logger:  logger.With().Str("component", "plugins").Logger(),
	}
}

// BeforeRun asks each plugin in order; the first non-nil content wins and
// short-circuits the rest of the chain.
func (m *Manager) BeforeRun(ctx context.Context, inv *agent.Invocation) (*event.Content, error) {
	if m == nil {
		return nil, nil
	}
	for _, p := range m.plugins {
		content, err := p.BeforeRun(ctx, inv)
		if err != nil {
			return nil, err
		}
		if content != nil {
			m.logger.Debug().Str("plugin", p.Name()).Msg("Plugin short-circuited the run")
			return content, nil
		}
	}
	return nil, nil
}

// OnUserMessage threads the user content through every plugin; each non-nil
// return becomes the input of the next.
func (m *Manager) OnUserMessage(ctx context.Context, inv *agent.Invocation, content *event.Content) (*event.Content, error) {
	if m == nil {
		return content, nil
	}
	for _, p := range m.plugins {
		rewritten, err := p.OnUserMessage(ctx, inv, content)
		if err != nil {
			return nil, err
		}
		if rewritten != nil {
			content = rewritten
		}
	}
	return content, nil
}

// OnEvent threads an event through every plugin; each non-nil return
// replaces the event for the rest of the chain.
func (m *Manager) OnEvent(ctx context.Context, inv *agent.Invocation, ev *event.Event) (*event.Event, error) {
	if m == nil {
		return ev, nil
	}
	for _, p := range m.plugins {
		replaced, err := p.OnEvent(ctx, inv, ev)
		if err != nil {
			return nil, err
		}
		if replaced != nil {
			ev = replaced
		}
	}
	return ev, nil
}

// AfterRun runs every plugin's post-hook regardless of earlier failures and
// returns the joined errors.
func (m *Manager) AfterRun(ctx context.Context, inv *agent.Invocation) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, p := range m.plugins {
		if err := p.AfterRun(ctx, inv); err != nil {
			m.logger.Warn().Err(err).Str("plugin", p.Name()).Msg("AfterRun hook failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
