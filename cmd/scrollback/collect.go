package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/scrollback/internal/remotesink"
)

func newCollectCmd() *cobra.Command {
	var (
		addr      string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Receive exports streamed from other hosts over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			serverCfg := toCollectorConfig(cfg.Remote)
			if addr != "" {
				serverCfg.Addr = addr
			}
			if outputDir != "" {
				serverCfg.OutputDir = outputDir
			}
			return remotesink.NewServer(serverCfg).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (host:port or unix:/path); default remote.addr")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for received exports; default remote.output_dir")
	return cmd
}
