package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/app"
	"github.com/upb/ai-gateway/config"
	"github.com/upb/ai-gateway/internal/observability"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "api-gateway",
	Short: "Unified AI provider gateway",
	Long: `api-gateway exposes one chat interface over OpenAI, Anthropic, Baidu ERNIE,
Alibaba Qwen, Zhipu GLM, Google Gemini and AWS Bedrock, with per-provider
credentials, cost accounting and usage statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra .env file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

// bootstrap loads configuration and builds the logger and dependencies
// shared by every subcommand
func bootstrap(ctx context.Context, defaultLevel string) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Observability.LogLevel
	switch {
	case logLevel != "":
		level = logLevel
	case defaultLevel != "" && os.Getenv("LOG_LEVEL") == "":
		level = defaultLevel
	}

	logger, err := observability.NewLogger(level, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return deps, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
