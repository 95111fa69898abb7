// Package main is the entry point for the urbanrender server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

// configPath is shared by every subcommand.
var configPath string

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "urbanrender",
		Short: "Render urban fabric maps into architectural visualizations",
		Long: `urbanrender turns a figure-ground or urban fabric map into a rendered
city visualization using a generative image model.

Run "urbanrender serve" for the web service or "urbanrender render" for a
one-shot render from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRenderCommand())

	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
