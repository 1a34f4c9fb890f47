package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/runway/pkg/agent"
	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/session"
)

func TestScriptPluginRunsAfterRunScript(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "after.txt")

	p, err := NewScriptPlugin(ScriptConfig{
		Logger: zerolog.Nop(),
		Scripts: []Script{
			{
				ID:      "notify",
				Event:   EventAfterRun,
				Script:  "echo done > " + outputPath,
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.AfterRun(context.Background(), &agent.Invocation{InvocationID: "inv-1"}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(content))
}

func TestScriptPluginInjectsInvocationDataIntoEnvironment(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "env.txt")

	p, err := NewScriptPlugin(ScriptConfig{
		Logger: zerolog.Nop(),
		Scripts: []Script{
			{
				ID:      "env",
				Event:   EventAgentEvent,
				Script:  "echo \"$RUNWAY_HOOK_EVENT:$RUNWAY_HOOK_DATA_AGENT:$RUNWAY_HOOK_DATA_SESSION_ID\" > " + outputPath,
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	inv := &agent.Invocation{
		InvocationID: "inv-1",
		AgentName:    "assistant",
		Session:      &session.Session{ID: "s1"},
	}
	replaced, err := p.OnEvent(context.Background(), inv, event.New("inv-1", "assistant"))
	require.NoError(t, err)
	assert.Nil(t, replaced, "script plugin must never replace events")

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "run:event:assistant:s1\n", string(content))
}

func TestScriptPluginSwallowsFailures(t *testing.T) {
	p, err := NewScriptPlugin(ScriptConfig{
		Logger: zerolog.Nop(),
		Scripts: []Script{
			{ID: "fail", Event: EventBeforeRun, Script: "exit 2", Enabled: true},
			{ID: "slow", Event: EventAfterRun, Script: "sleep 1", Enabled: true, Timeout: 30 * time.Millisecond},
		},
	})
	require.NoError(t, err)

	content, err := p.BeforeRun(context.Background(), &agent.Invocation{})
	require.NoError(t, err)
	assert.Nil(t, content)

	assert.NoError(t, p.AfterRun(context.Background(), &agent.Invocation{}))
}

func TestNewScriptPluginValidation(t *testing.T) {
	t.Run("should reject a script without an event", func(t *testing.T) {
		_, err := NewScriptPlugin(ScriptConfig{
			Logger:  zerolog.Nop(),
			Scripts: []Script{{ID: "x", Script: "true", Enabled: true}},
		})
		assert.Error(t, err)
	})

	t.Run("should reject an event without a script body", func(t *testing.T) {
		_, err := NewScriptPlugin(ScriptConfig{
			Logger:  zerolog.Nop(),
			Scripts: []Script{{ID: "x", Event: EventAfterRun, Enabled: true}},
		})
		assert.Error(t, err)
	})

	t.Run("should skip disabled scripts", func(t *testing.T) {
		p, err := NewScriptPlugin(ScriptConfig{
			Logger:  zerolog.Nop(),
			Scripts: []Script{{ID: "x", Event: EventAfterRun, Script: "true", Enabled: false}},
		})
		require.NoError(t, err)
		assert.Empty(t, p.scriptsByEvent)
	})
}
