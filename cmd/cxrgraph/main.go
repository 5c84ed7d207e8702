// Package main provides the cxrgraph CLI entry point.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "cxrgraph",
		Short: "Multimodal chest X-ray knowledge graph",
		Long: `cxrgraph builds a knowledge graph from chest X-ray reports and images
and answers questions about new images from the graph.

Settings come from CXR_* environment variables or a config file.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		logging.Configure(cfg.LogLevel)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newIngestCmd(load),
		newAskCmd(load),
		newResetCmd(load),
		newServeCmd(load),
		newRunsCmd(load),
	)
	return rootCmd
}
