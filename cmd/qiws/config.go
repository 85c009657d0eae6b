package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func configCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after merging defaults, the config file and
QIWS_* environment variables. The output is a valid config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.AllSettings())
			if err != nil {
				return err
			}
			if used := cfg.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
