package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/ai-gateway/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long:  `Start the gateway on the loopback interface, serving /v1/models, /v1/chat/completions, and /v1/messages.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", server.DefaultPort, "listen port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)

	port, _ := cmd.Flags().GetInt("port")

	store := openStore()

	color.Green("Starting %s v%s on 127.0.0.1:%d", AppName, Version, port)

	srv := server.New(store, logger)

	return srv.Start(port)
}
