package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ladybird/contentsec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `config resolves the configuration the same way serve does -- config
file, CONTENTSEC_ environment overrides, then defaults -- and prints the
result as YAML. Useful for verifying what a deployment will actually run
with before starting the host process.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal effective config: %w", err)
	}

	if file := config.ConfigFileUsed(); file != "" {
		fmt.Printf("# loaded from %s\n", file)
	} else {
		fmt.Println("# no config file found; environment overrides and defaults only")
	}
	fmt.Print(string(out))
	return nil
}
