package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/format"
	"pkt.systems/scrollback/internal/sink"
	"pkt.systems/scrollback/schema"
)

func newExportCmd() *cobra.Command {
	var (
		to         string
		formatName string
	)
	cmd := &cobra.Command{
		Use:   "export FILE...",
		Short: "Export captured terminal logs as plain text or HTML",
		Long: "Each FILE (or - for stdin) becomes one session and one export job. " +
			"With several files, --to names a directory or URL prefix and each job gets its own destination.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := cfg.ServiceConfig()
			if err != nil {
				return err
			}
			if formatName != "" {
				if svc.DefaultFormat, err = schema.ParseFormat(formatName); err != nil {
					return err
				}
			}
			mux, closeMux, err := newSinkMux(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeMux()

			registry := core.NewRegistry(svc, nil)
			for _, path := range args {
				if _, err := loadSession(registry, path, cmd.InOrStdin()); err != nil {
					return err
				}
			}
			failures := newFailureCounter(len(args))
			task := core.NewExportTask(core.ExportOptions{
				Registry:      registry,
				Chooser:       exportChooser(to, svc.DefaultFormat, len(args) > 1),
				Opener:        mux,
				Decoders:      format.Factory,
				Reporter:      failures,
				ChunkLines:    svc.ChunkLines,
				DefaultFormat: svc.DefaultFormat,
			})
			for _, sess := range registry.List() {
				if err := task.AddSession(sess.ID()); err != nil {
					return err
				}
			}
			if err := task.Execute(cmd.Context()); err != nil {
				return err
			}
			select {
			case <-task.Done():
			case <-cmd.Context().Done():
				task.CancelAll()
				<-task.Done()
				return cmd.Context().Err()
			}
			if n := failures.count(); n > 0 {
				return fmt.Errorf("%d of %d exports failed", n, len(args))
			}
			pslog.Ctx(cmd.Context()).Info("export done", "sessions", len(args))
			return nil
		},
	}
	cmd.Flags().StringVarP(&to, "to", "o", "-", "destination: - (stdout), path, file://, http(s)://, gs://, grpc://host:port/name")
	cmd.Flags().StringVarP(&formatName, "format", "f", "", "export format (plain|html); default from config")
	return cmd
}

// exportChooser maps each session to a destination. With several sessions
// the destination is treated as a prefix and the session title is appended;
// titles that share a base name get a -2, -3, ... suffix.
func exportChooser(to string, format schema.Format, multi bool) core.DestinationChooser {
	var (
		mu    sync.Mutex
		taken = make(map[string]bool)
	)
	return core.DestinationChooserFunc(func(_ context.Context, info schema.SessionInfo) (schema.Destination, bool, error) {
		dest := schema.Destination{URL: to, Format: format}
		if !multi || to == "-" || to == "" {
			return dest, to != "", nil
		}
		base := strings.TrimSuffix(filepath.Base(info.Title), filepath.Ext(info.Title))
		mu.Lock()
		name := base + format.Extension()
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d%s", base, n, format.Extension())
		}
		taken[name] = true
		mu.Unlock()
		if sink.Scheme(to) == "" {
			dest.URL = filepath.Join(to, name)
		} else {
			dest.URL = strings.TrimSuffix(to, "/") + "/" + name
		}
		return dest, true, nil
	})
}
