package main

import (
	"fmt"
	"os"

	"github.com/everkeep-ai/everkeep/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "everkeepd",
		Short: "Everkeep daemon",
		Long:  "Everkeep daemon for running the knowledge ingestion and retrieval API server",
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
