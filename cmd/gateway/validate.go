package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the
gateway. Exits non-zero when the configuration is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Configuration valid: %d task groups, %d pools\n",
			len(cfg.TaskGroups), len(cfg.Pools))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
