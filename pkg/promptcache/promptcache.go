package promptcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/runway/internal/observability"
	"github.com/harun/runway/pkg/provider"
)

// Provider is the cache-capable side of a model provider: it can create a
// provider-side cache resource from a system instruction and tool
// declarations, and delete one by handle name.
type Provider interface {
	CreateCache(ctx context.Context, systemInstruction string, tools []provider.ToolDecl, ttl time.Duration) (string, error)
	DeleteCache(ctx context.Context, name string) error
}

// Config holds the cache lifecycle knobs. MinTokens or TTL at zero disables
// caching entirely.
type Config struct {
	MinTokens       int
	TTL             time.Duration
	RefreshInterval int // invocations between refreshes
	Logger          zerolog.Logger
}

// Manager tracks one active provider cache handle and an invocation
// counter. All methods are safe for concurrent use; Refresh serializes so
// only one invocation refreshes at a time.
type Manager struct {
	config Config
	logger zerolog.Logger

	mu          sync.Mutex // held across the whole refresh protocol
	active      string
	invocations int
}

// NewManager creates a cache lifecycle manager.
func NewManager(config Config) *Manager {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 10
	}
	return &Manager{
		config: config,
		logger: config.Logger.With().Str("component", "promptcache").Logger(),
	}
}

// Enabled reports whether caching is on. Either MinTokens or TTL at zero is
// a kill switch.
func (m *Manager) Enabled() bool {
	return m.config.MinTokens > 0 && m.config.TTL > 0
}

// NeedsRefresh reports whether enough invocations have passed since the
// active handle was set.
func (m *Manager) NeedsRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations >= m.config.RefreshInterval
}

// RecordInvocation increments the invocation counter and returns the active
// handle, or "" when none is active.
func (m *Manager) RecordInvocation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations++
	return m.active
}

// SetActive installs a new active handle and resets the counter.
func (m *Manager) SetActive(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = name
	m.invocations = 0
	observability.SetCacheActive(name != "")
}

// ClearActive drops the active handle and resets the counter, returning the
// old handle, or "" when none was active.
func (m *Manager) ClearActive() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.active
	m.active = ""
	m.invocations = 0
	observability.SetCacheActive(false)
	return old
}

// Refresh runs the once-per-invocation cache protocol and returns the
// handle to attach to the invocation, or "" for no cache. Creation failure
// is logged and never fatal; deleting the superseded handle is best-effort.
func (m *Manager) Refresh(ctx context.Context, prov Provider, systemInstruction string, tools []provider.ToolDecl) string {
	if !m.Enabled() || prov == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == "" || m.invocations >= m.config.RefreshInterval {
		name, err := prov.CreateCache(ctx, systemInstruction, tools, m.config.TTL)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Cache creation failed; proceeding without cache")
			observability.RecordCacheRefresh(false)
			m.active = ""
			m.invocations = 0
			observability.SetCacheActive(false)
		} else {
			if m.active != "" && m.active != name {
				if delErr := prov.DeleteCache(ctx, m.active); delErr != nil {
					m.logger.Warn().Err(delErr).Str("cache", m.active).Msg("Failed to delete superseded cache")
				}
			}
			m.logger.Info().Str("cache", name).Msg("Prompt cache refreshed")
			observability.RecordCacheRefresh(true)
			m.active = name
			m.invocations = 0
			observability.SetCacheActive(true)
		}
	}

	m.invocations++
	return m.active
}

// Retire deletes the active cache, if any. Deletion failure is logged; the
// handle is dropped either way.
func (m *Manager) Retire(ctx context.Context, prov Provider) {
	old := m.ClearActive()
	if old == "" || prov == nil {
		return
	}
	if err := prov.DeleteCache(ctx, old); err != nil {
		m.logger.Warn().Err(err).Str("cache", old).Msg("Failed to delete cache on retire")
	}
}
