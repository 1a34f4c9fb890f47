package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/runway/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up Runway.
The wizard will guide you through configuring provider API keys and the
default model.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	reader := bufio.NewReader(os.Stdin)
	cfg.Providers.GeminiAPIKey = promptValue(reader, "Gemini API key", cfg.Providers.GeminiAPIKey)
	cfg.Providers.AnthropicAPIKey = promptValue(reader, "Anthropic API key", cfg.Providers.AnthropicAPIKey)
	cfg.Providers.OpenAIAPIKey = promptValue(reader, "OpenAI API key", cfg.Providers.OpenAIAPIKey)
	cfg.Providers.DefaultModel = promptValue(reader, "Default model", cfg.Providers.DefaultModel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath, err := loader.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Printf("\nConfiguration saved to: %s\n", configPath)
	fmt.Println("\nYou can now chat with: runway chat")

	return nil
}

func promptValue(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, mask(current))
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return current
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
