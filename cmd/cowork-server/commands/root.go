// Package commands implements the cowork-server CLI.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cowork-server",
	Short: "Interactive LLM agent server",
	Long: `cowork-server hosts interactive agent sessions: it drives the model
loop, executes tools on the model's behalf, and streams events to connected
front-ends over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env in the working directory supplies provider keys in dev.
		_ = godotenv.Load()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
}
