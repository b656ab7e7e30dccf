package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/persist"
	"pkt.systems/scrollback/internal/report"
	"pkt.systems/scrollback/schema"
)

func newSearchCmd() *cobra.Command {
	var (
		backwards bool
		limit     int
		output    string
		matchCase bool
		regExp    bool
	)
	cmd := &cobra.Command{
		Use:   "search FILE PATTERN",
		Short: "Find a pattern in a captured terminal log",
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
			style, err := report.ParseStyle(output, defaultStyle(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			registry := core.NewRegistry(svc, nil)
			sess, err := loadSession(registry, args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			controller, err := core.NewController(registry, sess.ID(), core.ControllerDeps{})
			if err != nil {
				return err
			}
			store, err := persist.NewStoreWithLogger(cfg.StateDir, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			if saved, ok, err := store.LoadPatterns(searchPatternsName); err == nil && ok {
				controller.RestorePatterns(saved.Patterns)
			}
			query := core.SearchQuery{
				Pattern:   args[1],
				Direction: schema.Forwards,
				MatchCase: svc.MatchCase,
				RegExp:    svc.MatchRegExp,
			}
			if cmd.Flags().Changed("case") {
				query.MatchCase = matchCase
			}
			if cmd.Flags().Changed("regexp") {
				query.RegExp = regExp
			}
			if backwards {
				query.Direction = schema.Backwards
			}
			rows, err := report.CollectMatches(cmd.Context(), controller, sess.History(), query, limit)
			if err != nil {
				return err
			}
			if err := store.SavePatterns(searchPatternsName, controller.RecentPatterns()); err != nil {
				pslog.Ctx(cmd.Context()).Warn("search patterns save failed", "err", err)
			}
			return report.WriteMatches(cmd.OutOrStdout(), rows, style)
		},
	}
	cmd.Flags().BoolVarP(&matchCase, "case", "C", false, "match case (default from config)")
	cmd.Flags().BoolVarP(&regExp, "regexp", "e", false, "treat the pattern as a regular expression (default from config)")
	cmd.Flags().BoolVarP(&backwards, "backwards", "b", false, "search from the end towards the start")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many matches (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output style (table|plain|jsonl); table on a terminal")
	return cmd
}

const searchPatternsName = "search"

func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Print recently used search patterns, newest last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := persist.NewStoreWithLogger(cfg.StateDir, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			saved, _, err := store.LoadPatterns(searchPatternsName)
			if err != nil {
				return err
			}
			for _, pattern := range saved.Patterns {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), pattern); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func defaultStyle(w io.Writer) report.Style {
	if f, ok := w.(*os.File); ok && isTerminal(f.Fd()) {
		return report.StyleTable
	}
	return report.StylePlain
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
