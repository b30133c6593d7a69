package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/ai-gateway/internal/auth"
	"github.com/mihaisavezi/ai-gateway/internal/credstore"
	"github.com/mihaisavezi/ai-gateway/internal/providers"
)

var loginCmd = &cobra.Command{
	Use:   "login <provider> [api-key]",
	Short: "Store credentials for a provider",
	Long: `Store credentials for a provider. OAuth providers (gemini-cli, antigravity,
openai-codex, qwen-cli, github-copilot, vertex) run their interactive browser or
device-code flow; the rest take an API key argument.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	provider := args[0]

	if !providers.Known(provider) {
		ids := providers.IDs()
		sort.Strings(ids)

		return fmt.Errorf("unknown provider %q; known providers: %v", provider, ids)
	}

	store := openStore()

	switch provider {
	case "gemini-cli", "antigravity", "openai-codex", "qwen-cli", "github-copilot", "vertex":
		rec, err := auth.Login(cmd.Context(), provider)
		if err != nil {
			return err
		}

		// The vertex apiKey slot holds the location; its access token is
		// derived from the refresh token at request time.
		if provider == "vertex" {
			rec.APIKey = ""
		}

		if existing, ok := store.Get(provider); ok {
			rec.EnabledModels = existing.EnabledModels
			if rec.ProjectID == "" {
				rec.ProjectID = existing.ProjectID
			}

			if provider == "vertex" {
				rec.APIKey = existing.APIKey
			}
		}

		unlock := store.Lock(provider)
		defer unlock()

		if err := store.Put(provider, rec); err != nil {
			return err
		}

		color.Green("Logged in to %s", provider)
	default:
		if len(args) < 2 {
			return fmt.Errorf("provider %q takes an API key: %s login %s <api-key>", provider, AppName, provider)
		}

		rec, _ := store.Get(provider)
		rec.APIKey = args[1]
		rec.Type = credstore.CredentialKey

		unlock := store.Lock(provider)
		defer unlock()

		if err := store.Put(provider, rec); err != nil {
			return err
		}

		color.Green("Stored API key for %s", provider)
	}

	return nil
}
