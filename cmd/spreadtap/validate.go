package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spreadtap/internal/config"
)

func newValidateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if err := checkConfig(cmd, cfg, f.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %s\n", f.configPath)
			return nil
		},
	}
}

func newCrawlCmd(f *flags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Expand crawl_config entries into one table per directory",
		Long:  "Lists every crawl_config path and prints the config with one concrete table per directory found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd, *f)
			if err != nil {
				return err
			}
			defer env.close()

			if _, err := env.newTap(nil, nil); err != nil {
				return err
			}
			if out != "" {
				if err := config.Write(out, env.cfg); err != nil {
					return err
				}
				env.log.Info("wrote crawled config", zap.String("path", out), zap.Int("tables", len(env.cfg.Tables)))
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(env.cfg)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the expanded config here instead of stdout")
	return cmd
}
