// Package cmd provides the CLI commands for the GABP server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pardeike/gabp-server/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gabp-server",
	Short: "GABP server - Game Agent Bridge Protocol host endpoint",
	Long: `gabp-server implements the host side of the Game Agent Bridge Protocol:
a length-framed, token-authenticated JSON-RPC-style server that an
embedding game or application runs on loopback TCP so an external bridge
process can call registered tools and subscribe to event channels.

Quick start:
  1. Create a config file: gabp-server.yaml
  2. Run: gabp-server start

Configuration:
  Config is loaded from gabp-server.yaml in the current directory,
  $HOME/.gabp-server/, or /etc/gabp-server/.

  Environment variables can override config values with the GABP_ prefix,
  e.g. GABP_SERVER_PORT, GABP_TOKEN, GABP_AGENT_AGENT_ID. GABS_GAME_ID is
  also accepted as an alias for the agent id.

Commands:
  start        Start the server
  hash-token   Generate a storable hash for a shared token
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gabp-server.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
