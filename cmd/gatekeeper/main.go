// Gatekeeper - a conversational key-guarding challenge.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Talk a guarded AI into revealing its key",
	Long: `Gatekeeper is a chat challenge. An AI guards a secret key and reveals it
one character at a time, only to players who earn its trust through
thoughtful conversation.

Run "gatekeeper serve" for the web game or "gatekeeper play" for the
terminal client.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Missing .env is normal in production.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().String("rules", "", "path to a YAML rules file (overrides RULES_PATH)")
	rootCmd.AddCommand(serveCmd, playCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
