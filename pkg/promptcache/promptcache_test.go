package promptcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/runway/pkg/provider"
)

type fakeCacheProvider struct {
	created   int
	deleted   []string
	createErr error
	deleteErr error
}

func (f *fakeCacheProvider) CreateCache(ctx context.Context, systemInstruction string, tools []provider.ToolDecl, ttl time.Duration) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return fmt.Sprintf("caches/%d", f.created), nil
}

func (f *fakeCacheProvider) DeleteCache(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func newTestManager(minTokens int, ttl time.Duration, interval int) *Manager {
	return NewManager(Config{
		MinTokens:       minTokens,
		TTL:             ttl,
		RefreshInterval: interval,
		Logger:          zerolog.Nop(),
	})
}

func TestManagerEnabled(t *testing.T) {
	tests := []struct {
		name      string
		minTokens int
		ttl       time.Duration
		want      bool
	}{
		{"both set", 1024, 30 * time.Minute, true},
		{"zero min tokens", 0, 30 * time.Minute, false},
		{"zero ttl", 1024, 0, false},
		{"both zero", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(tt.minTokens, tt.ttl, 3)
			assert.Equal(t, tt.want, m.Enabled())
		})
	}
}

func TestManagerRefreshCounting(t *testing.T) {
	m := newTestManager(1024, 30*time.Minute, 3)

	m.SetActive("caches/1")
	assert.False(t, m.NeedsRefresh())

	m.RecordInvocation()
	m.RecordInvocation()
	assert.False(t, m.NeedsRefresh(), "two invocations must not trigger a refresh at interval 3")

	handle := m.RecordInvocation()
	assert.Equal(t, "caches/1", handle)
	assert.True(t, m.NeedsRefresh(), "three invocations must trigger a refresh at interval 3")
}

func TestManagerSetAndClearActive(t *testing.T) {
	m := newTestManager(1024, 30*time.Minute, 3)

	assert.Equal(t, "", m.RecordInvocation())

	m.SetActive("caches/1")
	assert.Equal(t, "caches/1", m.RecordInvocation())

	old := m.ClearActive()
	assert.Equal(t, "caches/1", old)
	assert.Equal(t, "", m.RecordInvocation())
	assert.Equal(t, "", m.ClearActive())
}

func TestManagerRefreshProtocol(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a cache on first use and reuse it until the interval", func(t *testing.T) {
		fake := &fakeCacheProvider{}
		m := newTestManager(1024, 30*time.Minute, 3)

		handle := m.Refresh(ctx, fake, "instruction", nil)
		assert.Equal(t, "caches/1", handle)
		assert.Equal(t, 1, fake.created)

		// Two more invocations reuse the same handle without creating.
		assert.Equal(t, "caches/1", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, "caches/1", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, 1, fake.created)

		// The fourth invocation crosses the interval and rotates the handle.
		assert.Equal(t, "caches/2", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, 2, fake.created)
		assert.Equal(t, []string{"caches/1"}, fake.deleted)
	})

	t.Run("should proceed without cache when creation fails", func(t *testing.T) {
		fake := &fakeCacheProvider{createErr: fmt.Errorf("quota exceeded")}
		m := newTestManager(1024, 30*time.Minute, 3)

		handle := m.Refresh(ctx, fake, "instruction", nil)
		assert.Equal(t, "", handle)

		// Recovery on a later invocation once creation works again.
		fake.createErr = nil
		assert.Equal(t, "caches/1", m.Refresh(ctx, fake, "instruction", nil))
	})

	t.Run("should keep the new cache when deleting the old one fails", func(t *testing.T) {
		fake := &fakeCacheProvider{deleteErr: fmt.Errorf("already gone")}
		m := newTestManager(1024, 30*time.Minute, 1)

		assert.Equal(t, "caches/1", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, "caches/2", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, []string{"caches/1"}, fake.deleted)
	})

	t.Run("should do nothing when disabled", func(t *testing.T) {
		fake := &fakeCacheProvider{}
		m := newTestManager(0, 30*time.Minute, 3)

		assert.Equal(t, "", m.Refresh(ctx, fake, "instruction", nil))
		assert.Equal(t, 0, fake.created)
	})

	t.Run("should do nothing without a provider", func(t *testing.T) {
		m := newTestManager(1024, 30*time.Minute, 3)
		assert.Equal(t, "", m.Refresh(ctx, nil, "instruction", nil))
	})
}

func TestManagerRetire(t *testing.T) {
	ctx := context.Background()
	fake := &fakeCacheProvider{}
	m := newTestManager(1024, 30*time.Minute, 3)

	require.Equal(t, "caches/1", m.Refresh(ctx, fake, "instruction", nil))
	m.Retire(ctx, fake)

	assert.Equal(t, []string{"caches/1"}, fake.deleted)
	assert.Equal(t, "", m.RecordInvocation())
}
