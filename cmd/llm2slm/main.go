// Package main is the entry point for the llm2slm binary. It exposes the
// privacy subsystem on the command line and serves the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultLogLevel = "info"

	version = "0.2.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for llm2slm.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llm2slm",
		Short: "LLM to SLM conversion with privacy enforcement",
		Long: `Converts large language models to small language models while
enforcing a privacy policy over everything that flows through the
conversion: PII anonymization, content filtering, and leveled validation
with a tamper-evident audit trail.

Example:
  llm2slm anonymize --method redact "Email: john@example.com"
  llm2slm serve --config /etc/llm2slm/config.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newAnonymizeCmd(),
		newFilterCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newConvertCmd(),
		newServeCmd(),
	)

	return rootCmd
}
