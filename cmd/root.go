package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portfolio-agent",
	Short: "Voice and text assistant for a portfolio site",
	Long: `A conversational agent that answers visitors of a portfolio site.

It serves a text and voice chat API backed by a completion model, speech
synthesis and transcription, and ships a terminal chat widget.

Quick Start:
  portfolio-agent serve                  # Start the API on $PORT
  portfolio-agent chat                   # Chat with a running server`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd, chatCmd)
}
