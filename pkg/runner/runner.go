package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/runway/internal/observability"
	"github.com/harun/runway/internal/tracing"
	"github.com/harun/runway/pkg/agent"
	"github.com/harun/runway/pkg/artifact"
	"github.com/harun/runway/pkg/compaction"
	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/plugin"
	"github.com/harun/runway/pkg/promptcache"
	"github.com/harun/runway/pkg/provider"
	"github.com/harun/runway/pkg/session"
)

// cacheKeyer is the optional agent surface the cache refresh keys on. Agents
// that do not expose an instruction and tool set are never cached.
type cacheKeyer interface {
	Instruction() string
	ToolDeclarations() []provider.ToolDecl
}

// Config configures a Runner.
type Config struct {
	AppName       string
	RootAgent     agent.Agent
	Sessions      session.Service
	Artifacts     artifact.Service
	Plugins       *plugin.Manager
	Cache         *promptcache.Manager
	CacheProvider promptcache.Provider
	Compaction    *compaction.Trigger
	Logger        zerolog.Logger
}

// Runner turns one user message into an ordered stream of persisted events.
// It resolves the active agent from session history, relays the agent's
// event stream while persisting each event, follows at most one hand-off
// hop, and evaluates cache refresh and compaction around the run.
type Runner struct {
	config Config
	logger zerolog.Logger
}

// New creates a runner.
func New(config Config) (*Runner, error) {
	if config.AppName == "" {
		return nil, fmt.Errorf("app name is required")
	}
	if config.RootAgent == nil {
		return nil, fmt.Errorf("root agent is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if config.Artifacts == nil {
		config.Artifacts = artifact.NewInMemoryService()
	}

	observability.EnsureRegistered()

	return &Runner{
		config: config,
		logger: config.Logger.With().Str("component", "runner").Logger(),
	}, nil
}

// Run starts one invocation and returns its event stream. Every event on
// the stream has already been persisted; a fatal failure terminates the
// stream with an error instead of a normal end.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, msg *event.Content) *event.Stream {
	out := event.NewStream()
	go r.run(ctx, userID, sessionID, msg, out)
	return out
}

func (r *Runner) run(ctx context.Context, userID, sessionID string, msg *event.Content, out *event.Stream) {
	start := time.Now()
	invocationID := tracing.NewInvocationID()
	ctx = tracing.WithInvocationID(ctx, invocationID)
	ctx = tracing.WithSessionID(ctx, sessionID)

	ctx, span := tracing.StartSpan(ctx, "runner.run",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	sess, err := r.getOrCreateSession(ctx, userID, sessionID)
	if err != nil {
		// No invocation context exists yet, so no hooks run.
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to fetch session")
		span.RecordError(err)
		span.SetStatus(codes.Error, "session fetch failed")
		observability.RecordInvocation("", time.Since(start), false)
		out.CloseWithError(fmt.Errorf("failed to fetch session: %w", err))
		return
	}

	active := agent.ResolveActive(r.config.RootAgent, sess.Events)
	ctx = tracing.WithAgentName(ctx, active.Name())
	span.SetAttributes(attribute.String("agent", active.Name()))

	inv := &agent.Invocation{
		InvocationID: invocationID,
		AgentName:    active.Name(),
		Session:      sess,
		UserContent:  msg,
		RunConfig:    agent.RunConfig{Streaming: true},
		Artifacts:    r.config.Artifacts,
	}

	var runErr error
	defer func() {
		if err := r.config.Plugins.AfterRun(ctx, inv); err != nil {
			r.logger.Warn().Err(err).Msg("AfterRun hooks failed")
		}
		observability.RecordInvocation(active.Name(), time.Since(start), runErr == nil)
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
			out.CloseWithError(runErr)
			return
		}
		out.Close()
	}()

	// Pre-hook may short-circuit the whole run with ready-made content.
	early, err := r.config.Plugins.BeforeRun(ctx, inv)
	if err != nil {
		runErr = fmt.Errorf("before-run hook failed: %w", err)
		return
	}
	if early != nil {
		ev := event.New(invocationID, active.Name())
		ev.Content = early
		ev.Final = true
		if err := r.persist(ctx, sess, ev); err != nil {
			runErr = err
			return
		}
		out.Write(ev)
		return
	}

	rewritten, err := r.config.Plugins.OnUserMessage(ctx, inv, inv.UserContent)
	if err != nil {
		runErr = fmt.Errorf("user-message hook failed: %w", err)
		return
	}
	inv.UserContent = rewritten

	userEvent := event.New(invocationID, event.UserAuthor)
	userEvent.Content = inv.UserContent
	if err := r.persist(ctx, sess, userEvent); err != nil {
		runErr = err
		return
	}
	if !out.Write(userEvent) {
		return
	}

	r.refreshCache(ctx, inv, active)

	transfer, err := r.relay(ctx, inv, active, out)
	if err != nil {
		runErr = err
		return
	}

	if transfer != "" {
		if err := r.handOff(ctx, inv, transfer, out); err != nil {
			runErr = err
			return
		}
	}

	r.maybeCompact(ctx, invocationID, sess)
}

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	sess, err := r.config.Sessions.Get(ctx, r.config.AppName, userID, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	return r.config.Sessions.Create(ctx, r.config.AppName, userID, sessionID)
}

// persist applies the event to the working session, then writes it through
// the session service. The in-memory application comes first so the next
// agent step observes the state delta even while the durable write is in
// flight.
func (r *Runner) persist(ctx context.Context, sess *session.Session, ev *event.Event) error {
	sess.Apply(ev)
	if err := r.config.Sessions.AppendEvent(ctx, sess, ev); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	author := "agent"
	if ev.IsUser() {
		author = event.UserAuthor
	}
	observability.RecordEventPersisted(author)
	return nil
}

// relay pulls the agent's stream one event at a time: plugin on-event hook,
// state application, persistence, then emission. It returns the first
// hand-off target seen, if any. Persistence and hook failures abort the
// remaining stream.
func (r *Runner) relay(ctx context.Context, inv *agent.Invocation, a agent.Agent, out *event.Stream) (string, error) {
	stream := a.Run(ctx, inv)

	transfer := ""
	for {
		ev, ok := stream.Next()
		if !ok {
			if err := stream.Err(); err != nil {
				return transfer, fmt.Errorf("agent %s failed: %w", a.Name(), err)
			}
			return transfer, nil
		}

		replaced, err := r.config.Plugins.OnEvent(ctx, inv, ev)
		if err != nil {
			stream.Cancel()
			return transfer, fmt.Errorf("on-event hook failed: %w", err)
		}
		ev = replaced

		if err := r.persist(ctx, inv.Session, ev); err != nil {
			stream.Cancel()
			return transfer, err
		}

		if transfer == "" && ev.Actions.TransferTo != "" {
			transfer = ev.Actions.TransferTo
		}

		if !out.Write(ev) {
			stream.Cancel()
			return transfer, nil
		}
	}
}

// handOff re-invokes the hand-off target against the same working session
// and user content under a fresh invocation id. A target that does not
// resolve in the tree drops the hand-off. A hand-off emitted by the target
// itself is persisted but not followed.
func (r *Runner) handOff(ctx context.Context, inv *agent.Invocation, target string, out *event.Stream) error {
	targetAgent := agent.Find(r.config.RootAgent, target)
	if targetAgent == nil {
		r.logger.Warn().
			Str("target", target).
			Str("invocation_id", inv.InvocationID).
			Msg("Hand-off target not found in agent tree; dropping hand-off")
		return nil
	}

	handOffID := tracing.NewInvocationID()
	ctx = tracing.WithInvocationID(ctx, handOffID)
	ctx = tracing.WithAgentName(ctx, targetAgent.Name())

	r.logger.Info().
		Str("from", inv.AgentName).
		Str("to", targetAgent.Name()).
		Str("invocation_id", handOffID).
		Msg("Following agent hand-off")
	observability.RecordHandoff()

	handOffInv := &agent.Invocation{
		InvocationID: handOffID,
		AgentName:    targetAgent.Name(),
		Session:      inv.Session,
		UserContent:  inv.UserContent,
		RunConfig:    inv.RunConfig,
		Artifacts:    inv.Artifacts,
	}

	_, err := r.relay(ctx, handOffInv, targetAgent, out)
	return err
}

// refreshCache runs the cache lifecycle protocol and attaches the resulting
// handle to the invocation. The RunConfig is rebuilt, not mutated, because
// agents read it by value.
func (r *Runner) refreshCache(ctx context.Context, inv *agent.Invocation, active agent.Agent) {
	if r.config.Cache == nil || !r.config.Cache.Enabled() {
		return
	}
	keyer, ok := active.(cacheKeyer)
	if !ok {
		return
	}

	handle := r.config.Cache.Refresh(ctx, r.config.CacheProvider, keyer.Instruction(), keyer.ToolDeclarations())
	if handle == "" {
		return
	}

	rc := inv.RunConfig
	rc.CachedContent = handle
	inv.RunConfig = rc
}

// maybeCompact evaluates the compaction trigger over the full log and
// persists the result. Runs after the user-visible response is complete;
// never fatal.
func (r *Runner) maybeCompact(ctx context.Context, invocationID string, sess *session.Session) {
	if r.config.Compaction == nil {
		return
	}

	ev := r.config.Compaction.MaybeCompact(ctx, invocationID, sess.Events)
	if ev == nil {
		return
	}

	if err := r.persist(ctx, sess, ev); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist compaction event")
		return
	}
	r.logger.Info().
		Int("end_index", ev.Actions.Compaction.EndIndex).
		Msg("Compacted session history")
}
