// Package report renders session listings and search matches for terminals
// and scripts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// Style selects the output layout.
type Style string

const (
	// StyleTable draws a rounded table for interactive terminals.
	StyleTable Style = "table"
	// StylePlain writes tab separated rows.
	StylePlain Style = "plain"
	// StyleJSONL writes one JSON object per row.
	StyleJSONL Style = "jsonl"
)

// ParseStyle validates a style name. Empty picks fallback.
func ParseStyle(value string, fallback Style) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return fallback, nil
	case StyleTable:
		return StyleTable, nil
	case StylePlain:
		return StylePlain, nil
	case StyleJSONL, "json":
		return StyleJSONL, nil
	default:
		return "", fmt.Errorf("unsupported output style: %s", value)
	}
}

// SessionRow describes one session in a listing.
type SessionRow struct {
	ID    schema.SessionID    `json:"id"`
	Title string              `json:"title"`
	Lines int                 `json:"lines"`
	State schema.SessionState `json:"state"`
}

// MatchRow describes one search hit with the matched line's text.
type MatchRow struct {
	SessionID   schema.SessionID `json:"session"`
	Line        int              `json:"line"`
	StartColumn int              `json:"start_column"`
	EndColumn   int              `json:"end_column"`
	Text        string           `json:"text"`
}

// SessionRows snapshots every session in the registry.
func SessionRows(registry *core.Registry) []SessionRow {
	sessions := registry.List()
	rows := make([]SessionRow, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, SessionRow{
			ID:    sess.ID(),
			Title: sess.Title(),
			Lines: sess.History().LineCount(),
			State: sess.State(),
		})
	}
	return rows
}

// NewMatchRow resolves the text of the matched line. A line no longer in
// the history is reported without text.
func NewMatchRow(hist core.HistoryBuffer, match schema.MatchResult) MatchRow {
	row := MatchRow{
		SessionID:   match.SessionID,
		Line:        match.StartLine,
		StartColumn: match.StartColumn,
		EndColumn:   match.EndColumn,
	}
	if hist != nil {
		if line, err := hist.Line(match.StartLine); err == nil {
			row.Text = ansi.Strip(line)
		}
	}
	return row
}

// CollectMatches starts query on the controller and walks it to exhaustion
// in its direction. limit <= 0 collects every match.
func CollectMatches(ctx context.Context, controller *core.Controller, hist core.HistoryBuffer, query core.SearchQuery, limit int) ([]MatchRow, error) {
	match, found, err := controller.SearchHistory(ctx, query)
	if err != nil {
		return nil, err
	}
	var rows []MatchRow
	for found {
		rows = append(rows, NewMatchRow(hist, match))
		if limit > 0 && len(rows) >= limit {
			break
		}
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}
		if query.Direction == schema.Backwards {
			match, found, err = controller.FindPreviousInHistory(ctx)
		} else {
			match, found, err = controller.FindNextInHistory(ctx)
		}
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// WriteSessions writes a session listing.
func WriteSessions(w io.Writer, rows []SessionRow, style Style) error {
	switch style {
	case StylePlain:
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", row.ID, row.Title, row.Lines, row.State); err != nil {
				return err
			}
		}
		return nil
	case StyleJSONL:
		return writeJSONL(w, rows)
	}
	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 40},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"Session", "Title", "Lines", "State"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.ID, row.Title, row.Lines, row.State})
	}
	if len(rows) == 0 {
		tw.AppendRow(table.Row{"-", "(no sessions)", 0, "-"})
	}
	_ = tw.Render()
	return nil
}

// WriteMatches writes search hits.
func WriteMatches(w io.Writer, rows []MatchRow, style Style) error {
	switch style {
	case StylePlain:
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%d:%d-%d\t%s\n", row.Line+1, row.StartColumn+1, row.EndColumn, row.Text); err != nil {
				return err
			}
		}
		return nil
	case StyleJSONL:
		return writeJSONL(w, rows)
	}
	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 100},
	})
	tw.AppendHeader(table.Row{"Line", "Columns", "Text"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.Line + 1, fmt.Sprintf("%d-%d", row.StartColumn+1, row.EndColumn), row.Text})
	}
	if len(rows) == 0 {
		tw.AppendRow(table.Row{"-", "-", "(no matches)"})
	}
	_ = tw.Render()
	return nil
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true
	return tw
}

func writeJSONL[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
