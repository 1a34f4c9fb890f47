package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/provider"
)

const (
	transferToolName         = "transfer_to_agent"
	defaultMaxRetries        = 3
	defaultMaxToolIterations = 10
)

// ToolResult is what a tool handler produces: text fed back to the model
// plus an optional state delta attached to the tool's event.
type ToolResult struct {
	Output     string
	StateDelta map[string]interface{}
}

// Tool is a callable exposed to the model. InputSchema is a JSON schema for
// the arguments; when RequiresConfirmation is set the tool only runs if the
// invocation's RunConfig approved it.
type Tool struct {
	Name                 string
	Description          string
	InputSchema          map[string]interface{}
	RequiresConfirmation bool
	Handler              func(ctx context.Context, inv *Invocation, args map[string]interface{}) (*ToolResult, error)
}

// LLMConfig holds the configuration for an LLM-backed agent.
type LLMConfig struct {
	Name              string
	Description       string
	Instruction       string
	Provider          provider.LLMProvider
	Model             string
	MaxTokens         int
	Temperature       float64
	Tools             []Tool
	SubAgents         []Agent
	MaxToolIterations int
	Logger            zerolog.Logger
}

// LLMAgent drives a model provider in a call/tool loop. With sub-agents it
// additionally exposes a transfer tool; a transfer ends the agent's turn
// with a hand-off action instead of executing anything itself.
type LLMAgent struct {
	config LLMConfig
	tools  map[string]Tool
	logger zerolog.Logger
}

// NewLLMAgent creates an LLM-backed agent.
func NewLLMAgent(config LLMConfig) (*LLMAgent, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if config.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = defaultMaxToolIterations
	}

	tools := make(map[string]Tool, len(config.Tools))
	for _, tool := range config.Tools {
		if tool.Name == transferToolName {
			return nil, fmt.Errorf("tool name %q is reserved", transferToolName)
		}
		tools[tool.Name] = tool
	}

	return &LLMAgent{
		config: config,
		tools:  tools,
		logger: config.Logger.With().Str("component", "agent").Str("agent", config.Name).Logger(),
	}, nil
}

// Name returns the agent name.
func (a *LLMAgent) Name() string { return a.config.Name }

// Description returns the agent description.
func (a *LLMAgent) Description() string { return a.config.Description }

// SubAgents returns the agent's children.
func (a *LLMAgent) SubAgents() []Agent { return a.config.SubAgents }

// Instruction returns the full system prompt the agent sends to its
// provider, including the transfer preamble when sub-agents exist.
func (a *LLMAgent) Instruction() string { return a.buildSystemPrompt() }

// ToolDeclarations returns the tool declarations the agent exposes to its
// provider.
func (a *LLMAgent) ToolDeclarations() []provider.ToolDecl { return a.toolDecls() }

// Run executes the call/tool loop on its own goroutine.
func (a *LLMAgent) Run(ctx context.Context, inv *Invocation) *event.Stream {
	out := event.NewStream()
	go a.run(ctx, inv, out)
	return out
}

func (a *LLMAgent) run(ctx context.Context, inv *Invocation, out *event.Stream) {
	inv.beginTurn()
	messages := a.buildMessages(inv)

	request := provider.Request{
		Model:         a.config.Model,
		SystemPrompt:  a.buildSystemPrompt(),
		Messages:      messages,
		Tools:         a.toolDecls(),
		Temperature:   a.config.Temperature,
		MaxTokens:     a.config.MaxTokens,
		CachedContent: inv.RunConfig.CachedContent,
	}

	for iteration := 0; iteration < a.config.MaxToolIterations; iteration++ {
		response, err := a.callWithRetry(ctx, request)
		if err != nil {
			a.logger.Error().Err(err).Msg("Provider call failed")
			out.CloseWithError(err)
			return
		}

		if len(response.ToolCalls) == 0 {
			ev := event.New(inv.InvocationID, a.config.Name)
			ev.Content = &event.Content{Role: "assistant", Text: response.Content}
			ev.Final = true
			if response.Usage != nil {
				ev.Usage = &event.Usage{
					InputTokens:  response.Usage.InputTokens,
					OutputTokens: response.Usage.OutputTokens,
				}
			}
			out.Write(ev)
			out.Close()
			return
		}

		if transfer := findTransferCall(response.ToolCalls); transfer != nil {
			target, _ := transfer.Parameters["agent_name"].(string)
			ev := event.New(inv.InvocationID, a.config.Name)
			ev.Content = &event.Content{Role: "assistant", Text: response.Content}
			ev.Final = true
			ev.Actions.TransferTo = target
			if response.Usage != nil {
				ev.Usage = &event.Usage{
					InputTokens:  response.Usage.InputTokens,
					OutputTokens: response.Usage.OutputTokens,
				}
			}
			out.Write(ev)
			out.Close()
			return
		}

		request.Messages = append(request.Messages, provider.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			result, delta := a.executeTool(ctx, inv, call)

			ev := event.New(inv.InvocationID, a.config.Name)
			ev.Content = &event.Content{Role: "tool", Text: result}
			ev.Actions.StateDelta = delta
			ev.Actions.SkipSummarization = true
			// Subsequent tool calls see the delta through the invocation's
			// own view; applying it to the session is the pipeline's job.
			inv.mergeTurnState(delta)
			if !out.Write(ev) {
				return
			}

			request.Messages = append(request.Messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	out.CloseWithError(fmt.Errorf("agent %s exceeded %d tool iterations", a.config.Name, a.config.MaxToolIterations))
}

func (a *LLMAgent) executeTool(ctx context.Context, inv *Invocation, call provider.ToolCall) (string, map[string]interface{}) {
	tool, ok := a.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name), nil
	}

	if tool.RequiresConfirmation && !inv.RunConfig.ToolDecisions[call.Name] {
		a.logger.Warn().Str("tool", call.Name).Msg("Tool call rejected: not approved")
		return fmt.Sprintf("Error: tool %q was not approved for this run", call.Name), nil
	}

	if tool.InputSchema != nil {
		if err := validateArgs(tool.InputSchema, call.Parameters); err != nil {
			a.logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool arguments failed validation")
			return fmt.Sprintf("Error: invalid arguments for %q: %v", call.Name, err), nil
		}
	}

	result, err := tool.Handler(ctx, inv, call.Parameters)
	if err != nil {
		a.logger.Error().Err(err).Str("tool", call.Name).Msg("Tool execution failed")
		return fmt.Sprintf("Error: %v", err), nil
	}
	if result == nil {
		return "", nil
	}
	return result.Output, result.StateDelta
}

func (a *LLMAgent) callWithRetry(ctx context.Context, request provider.Request) (*provider.Response, error) {
	var lastErr error

	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			a.logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying provider call")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := a.config.Provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !provider.IsRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("provider call failed after %d attempts: %w", defaultMaxRetries, lastErr)
}

// buildMessages converts the session log into provider messages. When a
// compaction event exists, the covered prefix is replaced by its summary.
func (a *LLMAgent) buildMessages(inv *Invocation) []provider.Message {
	var messages []provider.Message

	start := 0
	if inv.Session != nil {
		if last := inv.Session.LastCompaction(); last != nil {
			c := last.Actions.Compaction
			if c.Summary != nil && c.Summary.Text != "" {
				messages = append(messages, provider.Message{
					Role:    "assistant",
					Content: "Summary of the conversation so far: " + c.Summary.Text,
				})
			}
			start = c.EndIndex
		}
	}

	if inv.Session != nil {
		for i := start; i < len(inv.Session.Events); i++ {
			ev := inv.Session.Events[i]
			if ev.Actions.Compaction != nil || ev.Text() == "" {
				continue
			}
			role := "assistant"
			if ev.IsUser() {
				role = "user"
			}
			messages = append(messages, provider.Message{Role: role, Content: ev.Text()})
		}
	}

	if inv.UserContent != nil && inv.UserContent.Text != "" {
		last := ""
		if n := len(messages); n > 0 && messages[n-1].Role == "user" {
			last = messages[n-1].Content
		}
		// The triggering message is usually already the log's tail.
		if last != inv.UserContent.Text {
			messages = append(messages, provider.Message{Role: "user", Content: inv.UserContent.Text})
		}
	}

	return messages
}

func (a *LLMAgent) buildSystemPrompt() string {
	prompt := a.config.Instruction

	if len(a.config.SubAgents) > 0 {
		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\nYou can transfer the conversation to one of these agents using the ")
		sb.WriteString(transferToolName)
		sb.WriteString(" tool:\n")
		for _, sub := range a.config.SubAgents {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", sub.Name(), sub.Description()))
		}
		prompt = sb.String()
	}

	return prompt
}

func (a *LLMAgent) toolDecls() []provider.ToolDecl {
	var decls []provider.ToolDecl

	for _, tool := range a.config.Tools {
		decls = append(decls, provider.ToolDecl{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	if len(a.config.SubAgents) > 0 {
		decls = append(decls, provider.ToolDecl{
			Name:        transferToolName,
			Description: "Transfer the conversation to another agent better suited to handle it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_name": map[string]interface{}{
						"type":        "string",
						"description": "Name of the agent to transfer to",
					},
				},
				"required": []string{"agent_name"},
			},
		})
	}

	return decls
}

func findTransferCall(calls []provider.ToolCall) *provider.ToolCall {
	for i := range calls {
		if calls[i].Name == transferToolName {
			return &calls[i]
		}
	}
	return nil
}

func validateArgs(schema, args map[string]interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
