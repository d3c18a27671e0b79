// Package commands implements the meshnode command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/loramesh/internal/config"
	"github.com/1ureka/loramesh/internal/util"
)

var version = "dev"

var (
	configPath string
	debugMode  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML/TOML/JSON config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:           "meshnode",
	Short:         "LoRa store-and-forward mesh node",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Ctrl+C cancels the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := util.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("meshnode v%s", version))
	pterm.Println()
	return cfg, nil
}
