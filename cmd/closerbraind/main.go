package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/closerbrain/internal/cli"
	"github.com/cloo-solutions/closerbrain/internal/cli/admin"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "closerbraind",
		Short:   "Closerbrain daemon and admin CLI",
		Long:    "Closerbrain daemon for serving the coaching API and running ingestion and stats jobs by hand",
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.ProcessCmd())
	rootCmd.AddCommand(admin.StatsCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
