package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/spf13/cobra"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/eventbus"
	"pkt.systems/scrollback/internal/report"
	"pkt.systems/scrollback/internal/sink"
	"pkt.systems/scrollback/schema"
)

func (s *Server) newCommandRoot(sess gliderssh.Session) *cobra.Command {
	root := &cobra.Command{
		Use:           "scrollback",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		s.listCommand(),
		s.exportCommand(sess),
		s.searchCommand(),
		s.tailCommand(),
		s.eventsCommand(),
		s.clearCommand(),
		s.monitorCommand(),
	)
	return root
}

func (s *Server) listCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			style, err := report.ParseStyle(output, report.StyleTable)
			if err != nil {
				return err
			}
			return report.WriteSessions(cmd.OutOrStdout(), report.SessionRows(s.Registry), style)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output style (table|plain|jsonl)")
	return cmd
}

func (s *Server) exportCommand(sess gliderssh.Session) *cobra.Command {
	var (
		formatName string
		to         string
	)
	cmd := &cobra.Command{
		Use:   "export SESSION...",
		Short: "Stream session history to this channel, or save it server-side with --to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := schema.ParseFormat(formatName)
			if err != nil {
				return err
			}
			deps := s.Deps
			dest := schema.Destination{URL: to, Format: format}
			if to == "" {
				deps.Opener = sink.NewWriterOpener(cmd.OutOrStdout())
				dest.URL = "-"
			}
			reporter := &channelReporter{w: sess.Stderr(), next: s.Deps.Reporter}

			task := core.NewExportTask(core.ExportOptions{
				Registry:      s.Registry,
				Chooser:       core.StaticDestination(dest),
				Opener:        deps.Opener,
				Decoders:      deps.Decoders,
				Events:        deps.EventSink,
				Reporter:      reporter,
				ChunkLines:    s.Registry.Config().ChunkLines,
				DefaultFormat: format,
			})
			for _, arg := range args {
				target, err := s.resolveSession(arg)
				if err != nil {
					return err
				}
				if err := task.AddSession(target.ID()); err != nil {
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
			if failed := reporter.count(); failed > 0 {
				return fmt.Errorf("%d of %d exports failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "plain", "export format (plain|html)")
	cmd.Flags().StringVar(&to, "to", "", "server-side destination (path, file://, http(s)://, gs://, grpc://)")
	return cmd
}

func (s *Server) searchCommand() *cobra.Command {
	var (
		query     core.SearchQuery
		backwards bool
		limit     int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search SESSION PATTERN",
		Short: "Find every match of a pattern in a session history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			style, err := report.ParseStyle(output, report.StylePlain)
			if err != nil {
				return err
			}
			target, err := s.resolveSession(args[0])
			if err != nil {
				return err
			}
			controller, err := core.NewController(s.Registry, target.ID(), s.Deps)
			if err != nil {
				return err
			}
			query.Pattern = args[1]
			query.Direction = schema.Forwards
			if backwards {
				query.Direction = schema.Backwards
			}
			rows, err := report.CollectMatches(cmd.Context(), controller, target.History(), query, limit)
			if err != nil {
				return err
			}
			return report.WriteMatches(cmd.OutOrStdout(), rows, style)
		},
	}
	cmd.Flags().BoolVarP(&query.MatchCase, "case", "c", false, "match case")
	cmd.Flags().BoolVarP(&query.RegExp, "regexp", "e", false, "treat the pattern as a regular expression")
	cmd.Flags().BoolVarP(&backwards, "backwards", "b", false, "search from the end towards the start")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many matches (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output style (table|plain|jsonl)")
	return cmd
}

func (s *Server) tailCommand() *cobra.Command {
	var query core.SearchQuery
	cmd := &cobra.Command{
		Use:   "tail SESSION PATTERN",
		Short: "Print matching output as it arrives",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := s.resolveSession(args[0])
			if err != nil {
				return err
			}
			monitor, err := core.NewPatternMonitor(target.ID(), core.SearchOptions{
				Registry:  s.Registry,
				Events:    s.Deps.EventSink,
				Pattern:   args[1],
				MatchCase: query.MatchCase,
				RegExp:    query.RegExp,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			hist := target.History()
			monitor.OnMatch(func(match schema.MatchResult) {
				_ = report.WriteMatches(out, []report.MatchRow{report.NewMatchRow(hist, match)}, report.StylePlain)
			})
			return monitor.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&query.MatchCase, "case", "c", false, "match case")
	cmd.Flags().BoolVarP(&query.RegExp, "regexp", "e", false, "treat the pattern as a regular expression")
	return cmd
}

func (s *Server) eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events [SESSION]",
		Short: "Stream task, match, state and error events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.EventBus == nil {
				return errors.New("event bus is not configured")
			}
			var sessionID schema.SessionID
			if len(args) == 1 {
				target, err := s.resolveSession(args[0])
				if err != nil {
					return err
				}
				sessionID = target.ID()
			}
			events, unsubscribe := s.EventBus.Subscribe(sessionID)
			defer unsubscribe()
			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-events:
					if !ok {
						return nil
					}
					if _, err := io.WriteString(out, formatEvent(event)+"\n"); err != nil {
						return err
					}
				}
			}
		},
	}
}

func (s *Server) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear SESSION",
		Short: "Drop a session history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := s.resolveSession(args[0])
			if err != nil {
				return err
			}
			controller, err := core.NewController(s.Registry, target.ID(), s.Deps)
			if err != nil {
				return err
			}
			return controller.ClearHistory(cmd.Context())
		},
	}
}

func (s *Server) monitorCommand() *cobra.Command {
	var activity, silence bool
	cmd := &cobra.Command{
		Use:   "monitor SESSION",
		Short: "Toggle activity and silence monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := s.resolveSession(args[0])
			if err != nil {
				return err
			}
			controller, err := core.NewController(s.Registry, target.ID(), s.Deps)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("activity") {
				if err := controller.MonitorActivity(activity); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("silence") {
				if err := controller.MonitorSilence(silence); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s activity=%t silence=%t state=%s\n",
				target.ID(), target.MonitorActivity(), target.MonitorSilence(), target.State())
			return err
		},
	}
	cmd.Flags().BoolVar(&activity, "activity", false, "monitor for activity")
	cmd.Flags().BoolVar(&silence, "silence", false, "monitor for silence")
	return cmd
}

// resolveSession accepts a session id or a unique title.
func (s *Server) resolveSession(arg string) (*core.Session, error) {
	if sess, ok := s.Registry.Lookup(schema.SessionID(arg)); ok {
		return sess, nil
	}
	var found *core.Session
	for _, sess := range s.Registry.List() {
		if sess.Title() != arg {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("session title %q is ambiguous", arg)
		}
		found = sess
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, arg)
	}
	return found, nil
}

func formatEvent(event eventbus.Event) string {
	var b strings.Builder
	at := time.Now()
	switch event.Type {
	case eventbus.EventTask:
		at = event.Task.At
		fmt.Fprintf(&b, "task %s %s task=%s", event.Task.Kind, event.Task.Type, event.Task.TaskID)
		if event.Task.JobID != "" {
			fmt.Fprintf(&b, " job=%s", event.Task.JobID)
		}
		if event.Task.Err != nil {
			fmt.Fprintf(&b, " err=%q", event.Task.Err.Error())
		}
	case eventbus.EventMatch:
		at = event.Match.At
		m := event.Match.Match
		fmt.Fprintf(&b, "match task=%s line=%d columns=%d-%d", event.Match.TaskID, m.StartLine+1, m.StartColumn+1, m.EndColumn)
	case eventbus.EventState:
		at = event.State.At
		fmt.Fprintf(&b, "state %s", event.State.State)
	case eventbus.EventError:
		at = event.Error.At
		fmt.Fprintf(&b, "error %q", event.Error.Message)
	}
	return fmt.Sprintf("%s session=%s %s", at.Format(time.RFC3339), event.SessionID(), b.String())
}

// channelReporter prints export failures to the SSH client and forwards them.
type channelReporter struct {
	mu     sync.Mutex
	w      io.Writer
	next   core.ErrorReporter
	failed int
}

func (r *channelReporter) ReportError(ctx context.Context, sessionID schema.SessionID, err error) {
	r.mu.Lock()
	r.failed++
	_, _ = fmt.Fprintf(r.w, "%s: %v\n", sessionID, err)
	r.mu.Unlock()
	if r.next != nil {
		r.next.ReportError(ctx, sessionID, err)
	}
}

func (r *channelReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
