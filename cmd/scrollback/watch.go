package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/feed"
	"pkt.systems/scrollback/internal/report"
	"pkt.systems/scrollback/schema"
)

func newWatchCmd() *cobra.Command {
	var (
		fromStart bool
		matchCase bool
		regExp    bool
		output    string
		silence   bool
	)
	cmd := &cobra.Command{
		Use:   "watch FILE PATTERN",
		Short: "Follow a growing log and print lines matching a pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := cfg.ServiceConfig()
			if err != nil {
				return err
			}
			style, err := report.ParseStyle(output, report.StylePlain)
			if err != nil {
				return err
			}
			logger := pslog.Ctx(cmd.Context())
			out := cmd.OutOrStdout()
			registry := core.NewRegistry(svc, stateLogger{log: logger})
			sess := registry.Create(filepath.Base(args[0]))
			if silence {
				sess.SetMonitorSilence(true)
			}

			monitor, err := core.NewPatternMonitor(sess.ID(), core.SearchOptions{
				Registry:  registry,
				Pattern:   args[1],
				MatchCase: matchCase,
				RegExp:    regExp,
			})
			if err != nil {
				return err
			}
			hist := sess.History()
			monitor.OnMatch(func(match schema.MatchResult) {
				_ = report.WriteMatches(out, []report.MatchRow{report.NewMatchRow(hist, match)}, style)
			})

			follower := feed.NewFollower(args[0], sess, feed.Options{FromStart: fromStart})
			group, ctx := errgroup.WithContext(cmd.Context())
			group.Go(func() error { return follower.Run(ctx) })
			group.Go(func() error { return monitor.Run(ctx) })
			err = group.Wait()
			registry.Remove(sess.ID())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "replay the existing file before following")
	cmd.Flags().BoolVarP(&matchCase, "case", "C", false, "match case")
	cmd.Flags().BoolVarP(&regExp, "regexp", "e", false, "treat the pattern as a regular expression")
	cmd.Flags().BoolVar(&silence, "silence", false, "log when the file goes quiet for monitor.silence_seconds")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output style (plain|jsonl)")
	return cmd
}

// stateLogger reports activity monitor transitions to the log.
type stateLogger struct {
	log pslog.Logger
}

func (s stateLogger) OnTaskEvent(schema.TaskEvent) {}

func (s stateLogger) OnMatch(schema.MatchEvent) {}

func (s stateLogger) OnSessionState(event schema.SessionStateEvent) {
	s.log.Info("session state changed", "session", event.SessionID, "state", event.State)
}
