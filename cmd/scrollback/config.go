package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/internal/appconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := writeDefaultConfig(cmd, force)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config written", "path", path)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func writeDefaultConfig(cmd *cobra.Command, force bool) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	return appconfig.WriteDefault(path, force)
}

func loadConfig(cmd *cobra.Command) (appconfig.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := appconfig.Load(path)
	if err != nil {
		return appconfig.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
