package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/ai-gateway/internal/modelcatalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List discoverable models per configured provider",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	store := openStore()
	catalog := modelcatalog.New(logger)

	records := store.List()
	if len(records) == 0 {
		return fmt.Errorf("no providers configured; run %s login first", AppName)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		if len(args) == 1 && args[0] != id {
			continue
		}

		color.New(color.Bold).Println(id)

		for _, model := range catalog.Discover(cmd.Context(), id, records[id]) {
			fmt.Printf("  %s/%s\n", id, model)
		}
	}

	return nil
}
