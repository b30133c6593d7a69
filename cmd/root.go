package cmd

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

const (
	AppName = "ai-gateway"
	Version = "1.0.0"
)

var logger *slog.Logger

func init() {
	logger = newLogger(false)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "AI Gateway - local multi-provider LLM proxy",
	Long:    `A local HTTP gateway exposing OpenAI chat-completions and Anthropic messages surfaces over ~30 upstream LLM providers.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(doctorCmd)
}

// newLogger builds a tinted slog handler on TTYs and a plain text handler
// otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger = newLogger(verbose)
}

func openStore() *credstore.Store {
	return credstore.Load(credstore.DefaultPath(), logger)
}
