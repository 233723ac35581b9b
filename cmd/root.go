package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stats-gateway",
	Short: "API key and rate limiting gateway for the stats API",
	Long:  `A gateway that authenticates API keys, enforces per-plan minute/hour/day quotas, records usage and forwards admitted requests via HTTP and gRPC.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
