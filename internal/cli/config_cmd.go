package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/autotriage/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Source: %s\n", configSource())

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintln(out, "Config is valid")
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(out, "  ✗ %s\n", e)
		}
		return fmt.Errorf("%d config error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, defaults included",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), cfg)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	},
}

// configSource names the file loadConfig reads.
func configSource() string {
	if configFile != "" {
		return configFile
	}
	for _, path := range config.Candidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "built-in defaults"
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "output format: yaml or json")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
