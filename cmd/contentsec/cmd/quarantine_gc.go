package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ladybird/contentsec/internal/adapter/outbound/quarantine"
	"github.com/ladybird/contentsec/internal/config"
	"github.com/ladybird/contentsec/internal/telemetry"
)

var quarantineGCCmd = &cobra.Command{
	Use:   "quarantine-gc",
	Short: "Sweep orphaned quarantine entries left by a prior crash",
	Long: `quarantine-gc opens the configured quarantine directory and retries
deletion of any .bin payload left behind by an interrupted quarantine
operation, the same sweep that runs automatically the first time the core
host process starts. Safe to run while the host process is not running;
running it concurrently with "serve" is also safe since both hold the
directory's flock for the duration of the sweep.`,
	RunE: runQuarantineGC,
}

func init() {
	rootCmd.AddCommand(quarantineGCCmd)
}

func runQuarantineGC(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel)
	store := quarantine.NewFilesystemStore(cfg.Quarantine.Dir, logger)

	if err := store.Initialize(context.Background()); err != nil {
		return err
	}

	entries, err := store.List(context.Background())
	if err != nil {
		return err
	}
	logger.Info("quarantine sweep complete", "dir", cfg.Quarantine.Dir, "entries_remaining", len(entries))
	return nil
}
