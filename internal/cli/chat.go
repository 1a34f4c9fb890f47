package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/runway/internal/config"
	"github.com/harun/runway/internal/logger"
	"github.com/harun/runway/internal/tracing"
	"github.com/harun/runway/pkg/agent"
	"github.com/harun/runway/pkg/compaction"
	"github.com/harun/runway/pkg/event"
	"github.com/harun/runway/pkg/plugin"
	"github.com/harun/runway/pkg/promptcache"
	"github.com/harun/runway/pkg/provider"
	"github.com/harun/runway/pkg/runner"
	"github.com/harun/runway/pkg/session"
)

var (
	chatUserID    string
	chatSessionID string
	chatMessage   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured agent",
	Long: `Chat with the configured agent. With --message the command sends one
message and exits; without it an interactive prompt is started.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUserID, "user", "local", "user id for the session")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "default", "session id to continue or create")
	chatCmd.Flags().StringVar(&chatMessage, "message", "", "send a single message and exit")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logger.New(logger.Config(cfg.Logging))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := tracing.InitOpenTelemetry(cfg.AppName, GetVersion(), cfg.Tracing.SampleRatio); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing")
	}

	llm, cacheProvider, err := buildProvider(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	sessions, err := session.NewSQLiteService(cfg.Sessions.Path)
	if err != nil {
		return err
	}
	defer sessions.Close()

	if cfg.Sessions.RetentionDays > 0 {
		cleaner, err := session.NewCleaner(session.CleanerConfig{
			Service:   sessions,
			Retention: time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour,
			Schedule:  cfg.Sessions.CleanupCron,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		if err := cleaner.Start(); err != nil {
			return err
		}
		defer cleaner.Stop()
	}

	root, err := agent.NewLLMAgent(agent.LLMConfig{
		Name:        "assistant",
		Description: "General-purpose assistant",
		Instruction: "You are a helpful assistant.",
		Provider:    llm,
		Model:       cfg.Providers.DefaultModel,
		MaxTokens:   4096,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	cache := promptcache.NewManager(promptcache.Config{
		MinTokens:       cfg.Cache.MinTokens,
		TTL:             time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		RefreshInterval: cfg.Cache.RefreshInterval,
		Logger:          log,
	})

	var trigger *compaction.Trigger
	if cfg.Compaction.Interval > 0 {
		trigger = compaction.NewTrigger(
			compaction.Config{Interval: cfg.Compaction.Interval, Overlap: cfg.Compaction.Overlap},
			compaction.NewLLMSummarizer(llm, cfg.Providers.DefaultModel, 0),
			log,
		)
	}

	run, err := runner.New(runner.Config{
		AppName:       cfg.AppName,
		RootAgent:     root,
		Sessions:      sessions,
		Plugins:       plugin.NewManager(log),
		Cache:         cache,
		CacheProvider: cacheProvider,
		Compaction:    trigger,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	if chatMessage != "" {
		return sendMessage(cmd.Context(), run, chatMessage)
	}

	fmt.Println("Chat started. Type 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := sendMessage(cmd.Context(), run, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func sendMessage(ctx context.Context, run *runner.Runner, text string) error {
	stream := run.Run(tracing.NewRequestContext(ctx), chatUserID, chatSessionID, &event.Content{
		Role: "user",
		Text: text,
	})

	for {
		ev, ok := stream.Next()
		if !ok {
			return stream.Err()
		}
		if ev.IsUser() || ev.Text() == "" {
			continue
		}
		fmt.Printf("[%s] %s\n", ev.Author, ev.Text())
	}
}

// buildProvider picks the first configured provider. Only Gemini supports
// the prompt-cache lifecycle.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.LLMProvider, promptcache.Provider, error) {
	switch {
	case cfg.Providers.GeminiAPIKey != "":
		p, err := provider.NewGeminiProvider(ctx, cfg.Providers.GeminiAPIKey, cfg.Providers.DefaultModel)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case cfg.Providers.AnthropicAPIKey != "":
		return provider.NewAnthropicProvider(cfg.Providers.AnthropicAPIKey), nil, nil
	case cfg.Providers.OpenAIAPIKey != "":
		return provider.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey), nil, nil
	default:
		return nil, nil, fmt.Errorf("no provider api key configured")
	}
}
