package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/afflux/feedsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the merged configuration (defaults, config.yaml, environment) as YAML. API keys are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		redacted := *cfg
		if len(cfg.Sources) > 0 {
			redacted.Sources = make(map[string]config.SourceConfig, len(cfg.Sources))
			for name, sc := range cfg.Sources {
				if sc.APIKey != "" {
					sc.APIKey = "<redacted>"
				}
				redacted.Sources[name] = sc
			}
		}

		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return eris.Wrap(err, "config: marshal")
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
