// Package cmd provides the CLI commands for the content-security core
// host process.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ladybird/contentsec/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "contentsec",
	Short: "Content-inspection and policy-enforcement core",
	Long: `contentsec hosts the content-inspection and policy-enforcement
pipeline embedded in a privileged network service: SecurityTap scans
downloaded content through an external signature engine, Quarantine stores
flagged payloads on disk, TrafficMonitor watches per-domain request
patterns for DGA/beaconing/exfiltration behavior, and PolicyGraph matches
inbound content against operator-defined policy and threat history.

Configuration is loaded from contentsec.yaml in the current directory,
$HOME/.contentsec/, or /etc/contentsec/.

Environment variables can override config values with the CONTENTSEC_
prefix. Example: CONTENTSEC_POLICY_GRAPH_DSN=/var/lib/contentsec/policy.db

Commands:
  serve          Run the core host process
  quarantine-gc  Sweep orphaned quarantine entries left by a prior crash
  config         Print the effective configuration as YAML
  version        Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./contentsec.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
