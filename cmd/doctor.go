package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mihaisavezi/ai-gateway/internal/doctor"
	"github.com/mihaisavezi/ai-gateway/internal/server"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Probe a running gateway with text and tool requests",
	Long: `Exercise the running gateway with streaming and non-streaming text and
tool-call probes for every enabled model. Exits 0 when all probes pass.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().Int("port", server.DefaultPort, "gateway port")
	doctorCmd.Flags().String("provider", "", "restrict probes to one provider id")
	doctorCmd.Flags().String("endpoint", "both", "surface to probe: chat, messages, or both")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)

	port, _ := cmd.Flags().GetInt("port")
	provider, _ := cmd.Flags().GetString("provider")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	verbose, _ := cmd.Flags().GetBool("verbose")

	d := doctor.New(doctor.Options{
		Port:     port,
		Provider: provider,
		Endpoint: endpoint,
		Verbose:  verbose,
	})

	failed, err := d.Run(cmd.Context(), openStore())
	if err != nil {
		return err
	}

	if failed > 0 {
		os.Exit(1)
	}

	return nil
}
