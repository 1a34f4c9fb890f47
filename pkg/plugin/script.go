package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/runway/pkg/agent"
	"github.com/harun/runway/pkg/event"
)

// Lifecycle events a script can subscribe to.
const (
	EventBeforeRun   = "run:before"
	EventUserMessage = "run:user_message"
	EventAgentEvent  = "run:event"
	EventAfterRun    = "run:after"
)

// Script is one shell script bound to a lifecycle event.
type Script struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// ScriptConfig configures a ScriptPlugin.
type ScriptConfig struct {
	Scripts []Script
	Logger  zerolog.Logger
}

// ScriptPlugin runs shell scripts on lifecycle events. Scripts observe the
// invocation through environment variables; they cannot rewrite content or
// events. Script failures are logged, never fatal.
type ScriptPlugin struct {
	Base
	scriptsByEvent map[string][]Script
	logger         zerolog.Logger
}

// NewScriptPlugin creates a script plugin.
func NewScriptPlugin(cfg ScriptConfig) (*ScriptPlugin, error) {
	p := &ScriptPlugin{
		scriptsByEvent: make(map[string][]Script),
		logger:         cfg.Logger.With().Str("component", "script_plugin").Logger(),
	}

	for _, script := range cfg.Scripts {
		if !script.Enabled {
			continue
		}
		eventName := strings.TrimSpace(script.Event)
		if eventName == "" {
			return nil, fmt.Errorf("script event is required")
		}
		if strings.TrimSpace(script.Script) == "" {
			return nil, fmt.Errorf("script body is required for event %q", eventName)
		}
		p.scriptsByEvent[eventName] = append(p.scriptsByEvent[eventName], script)
	}

	return p, nil
}

// Name returns the plugin name.
func (p *ScriptPlugin) Name() string { return "script" }

// BeforeRun runs scripts bound to run:before. It never short-circuits.
func (p *ScriptPlugin) BeforeRun(ctx context.Context, inv *agent.Invocation) (*event.Content, error) {
	p.trigger(ctx, EventBeforeRun, invocationData(inv, nil))
	return nil, nil
}

// OnUserMessage runs scripts bound to run:user_message. It never rewrites.
func (p *ScriptPlugin) OnUserMessage(ctx context.Context, inv *agent.Invocation, content *event.Content) (*event.Content, error) {
	data := invocationData(inv, nil)
	if content != nil {
		data["text"] = content.Text
	}
	p.trigger(ctx, EventUserMessage, data)
	return nil, nil
}

// OnEvent runs scripts bound to run:event. It never replaces the event.
func (p *ScriptPlugin) OnEvent(ctx context.Context, inv *agent.Invocation, ev *event.Event) (*event.Event, error) {
	p.trigger(ctx, EventAgentEvent, invocationData(inv, ev))
	return nil, nil
}

// AfterRun runs scripts bound to run:after.
func (p *ScriptPlugin) AfterRun(ctx context.Context, inv *agent.Invocation) error {
	p.trigger(ctx, EventAfterRun, invocationData(inv, nil))
	return nil
}

func (p *ScriptPlugin) trigger(ctx context.Context, eventName string, data map[string]interface{}) {
	for _, script := range p.scriptsByEvent[eventName] {
		if err := p.execute(ctx, eventName, script, data); err != nil {
			p.logger.Warn().Err(err).Str("event", eventName).Msg("Script failed")
		}
	}
}

func (p *ScriptPlugin) execute(ctx context.Context, eventName string, script Script, data map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	scriptID := script.ID
	if strings.TrimSpace(scriptID) == "" {
		scriptID = eventName
	}

	runCtx := ctx
	cancel := func() {}
	if script.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, script.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", script.Script)
	cmd.Env = buildScriptEnvironment(eventName, data)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("script %s failed: %w: %s", scriptID, err, outputText)
		}
		return fmt.Errorf("script %s failed: %w", scriptID, err)
	}

	if outputText != "" {
		p.logger.Debug().
			Str("event", eventName).
			Str("script_id", scriptID).
			Str("output", outputText).
			Msg("Script executed")
	}

	return nil
}

func invocationData(inv *agent.Invocation, ev *event.Event) map[string]interface{} {
	data := map[string]interface{}{}
	if inv != nil {
		data["invocation_id"] = inv.InvocationID
		data["agent"] = inv.AgentName
		if inv.Session != nil {
			data["session_id"] = inv.Session.ID
		}
	}
	if ev != nil {
		data["event_id"] = ev.ID
		data["author"] = ev.Author
	}
	return data
}

func buildScriptEnvironment(eventName string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "RUNWAY_HOOK_EVENT="+eventName)

	if len(data) == 0 {
		return env
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		envKey := "RUNWAY_HOOK_DATA_" + normalizeEnvKey(key)
		env = append(env, envKey+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
