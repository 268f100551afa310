// Command esence runs an esence node and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"esence/infrastructure/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "esence",
	Short: "esence - a personal agent node on a signed peer network",
	Long: `esence runs a node that answers signed messages from peers on behalf
of its owner, learning the owner's style from their corrections.

Configuration is read from the YAML file given with --config (or
ESENCE_CONFIG), then overridden by environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(didCmd)
	rootCmd.AddCommand(tokenCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
