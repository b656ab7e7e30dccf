package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/scrollback"
	"pkt.systems/scrollback/internal/appconfig"
	"pkt.systems/scrollback/internal/format"
	"pkt.systems/scrollback/internal/remotesink"
)

func newServeCmd() *cobra.Command {
	var (
		noSSH     bool
		collector bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Follow configured logs and serve them over SSH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := cfg.ServiceConfig()
			if err != nil {
				return err
			}
			mux, closeMux, err := newSinkMux(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeMux()

			var opts []scrollback.ServerOption
			if !noSSH {
				opts = append(opts, scrollback.WithSSH())
			}
			if collector {
				opts = append(opts, scrollback.WithCollector())
			}
			if len(cfg.Feeds) > 0 {
				opts = append(opts, scrollback.WithFeeds())
			}
			server, err := scrollback.New(scrollback.ServerConfig{
				Service:   svc,
				SSH:       toSSHConfig(cfg.SSH),
				Collector: toCollectorConfig(cfg.Remote),
				Feeds:     toFeedConfigs(cfg.Feeds),
			}, scrollback.ServerDeps{
				Opener:   mux,
				Decoders: format.Factory,
			}, opts...)
			if err != nil {
				return err
			}
			if err := server.Start(cmd.Context()); err != nil {
				return err
			}
			go func() {
				<-cmd.Context().Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			return server.Wait()
		},
	}
	cmd.Flags().BoolVar(&noSSH, "no-ssh", false, "do not start the SSH server")
	cmd.Flags().BoolVar(&collector, "collector", false, "also run the gRPC export collector")
	return cmd
}

func toSSHConfig(cfg appconfig.SSHConfig) scrollback.SSHConfig {
	return scrollback.SSHConfig{
		Addr:               cfg.Addr,
		HostKeyPath:        cfg.HostKeyPath,
		AuthorizedKeysPath: cfg.AuthorizedKeysPath,
	}
}

func toCollectorConfig(cfg appconfig.RemoteConfig) remotesink.Config {
	return remotesink.Config{
		Addr:      cfg.Addr,
		OutputDir: cfg.OutputDir,
		Compress:  cfg.Compress,
	}
}

func toFeedConfigs(feeds []appconfig.FeedConfig) []scrollback.FeedConfig {
	if len(feeds) == 0 {
		return nil
	}
	out := make([]scrollback.FeedConfig, 0, len(feeds))
	for _, fc := range feeds {
		out = append(out, scrollback.FeedConfig{
			Title:     fc.Title,
			Path:      fc.Path,
			FromStart: fc.FromStart,
		})
	}
	return out
}
