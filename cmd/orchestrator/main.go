package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Query Orchestrator - clinical AI retrieval and generation gateway",
		Long: `The orchestrator routes a clinician's text or voice query through PHI
detection, multi-source retrieval, PHI-gated model selection, and tool
execution, streaming a cited answer back over one WebSocket session.`,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	version = "dev"
	commit  = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("orchestrator %s (%s)\n", version, commit)
		},
	}
}
