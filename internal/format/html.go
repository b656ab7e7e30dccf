package format

import (
	"fmt"
	"html"
	"image/color"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

const htmlPrologue = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="generator" content="scrollback">
<title>%s</title>
</head>
<body>
<pre style="font-family: monospace">`

const htmlEpilogue = "</pre>\n</body>\n</html>\n"

// HTMLDecoder renders history lines as an HTML document. SGR attributes
// become inline styled spans; rendition carries over from one line to the
// next, but every span is closed at the end of its line.
type HTMLDecoder struct {
	Title string

	style  sgrStyle
	parser *ansi.Parser
}

var _ core.Decoder = (*HTMLDecoder)(nil)

// NewHTMLDecoder returns a decoder with default rendition.
func NewHTMLDecoder() *HTMLDecoder {
	return &HTMLDecoder{Title: "scrollback"}
}

// Format implements core.Decoder.
func (h *HTMLDecoder) Format() schema.Format {
	return schema.FormatHTML
}

// Begin writes the document prologue.
func (h *HTMLDecoder) Begin(w io.Writer) error {
	_, err := fmt.Fprintf(w, htmlPrologue, html.EscapeString(h.Title))
	return err
}

// DecodeLine implements core.Decoder.
func (h *HTMLDecoder) DecodeLine(w io.Writer, line string) error {
	if h.parser == nil {
		h.parser = ansi.NewParser()
		h.parser.SetDataSize(0)
	}
	h.parser.Reset()

	var b strings.Builder
	open := false
	var state byte
	for len(line) > 0 {
		seq, _, n, next := ansi.DecodeSequence(line, state, h.parser)
		if n == 0 {
			break
		}
		state, line = next, line[n:]
		if !isSequence(seq) {
			if !open && !h.style.isDefault() {
				b.WriteString(`<span style="`)
				b.WriteString(h.style.css())
				b.WriteString(`">`)
				open = true
			}
			b.WriteString(html.EscapeString(seq))
			continue
		}
		if !ansi.HasCsiPrefix(seq) {
			continue
		}
		cmd := ansi.Cmd(h.parser.Command())
		if cmd.Final() != 'm' || cmd.Prefix() != 0 || cmd.Intermediate() != 0 {
			continue
		}
		before := h.style
		h.style.apply(h.parser.Params())
		if h.style != before && open {
			b.WriteString("</span>")
			open = false
		}
	}
	if open {
		b.WriteString("</span>")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Separator implements core.Decoder.
func (h *HTMLDecoder) Separator() string {
	return "\n"
}

// End writes the document epilogue.
func (h *HTMLDecoder) End(w io.Writer) error {
	_, err := io.WriteString(w, htmlEpilogue)
	return err
}

// Close resets the rendition state.
func (h *HTMLDecoder) Close() error {
	h.style = sgrStyle{}
	return nil
}

func isSequence(seq string) bool {
	return ansi.HasEscPrefix(seq) || ansi.HasCsiPrefix(seq) || ansi.HasOscPrefix(seq) ||
		ansi.HasDcsPrefix(seq) || ansi.HasApcPrefix(seq) || ansi.HasPmPrefix(seq) || ansi.HasSosPrefix(seq)
}

type sgrStyle struct {
	fg        string
	bg        string
	bold      bool
	faint     bool
	italic    bool
	underline bool
	blink     bool
	reverse   bool
	strike    bool
}

func (s sgrStyle) isDefault() bool {
	return s == sgrStyle{}
}

func (s sgrStyle) css() string {
	fg, bg := s.fg, s.bg
	if s.reverse {
		fg, bg = bg, fg
		if fg == "" {
			fg = "#ffffff"
		}
		if bg == "" {
			bg = "#000000"
		}
	}
	var parts []string
	if fg != "" {
		parts = append(parts, "color:"+fg)
	}
	if bg != "" {
		parts = append(parts, "background-color:"+bg)
	}
	if s.bold {
		parts = append(parts, "font-weight:bold")
	}
	if s.faint {
		parts = append(parts, "opacity:0.6")
	}
	if s.italic {
		parts = append(parts, "font-style:italic")
	}
	var deco []string
	if s.underline {
		deco = append(deco, "underline")
	}
	if s.strike {
		deco = append(deco, "line-through")
	}
	if s.blink {
		deco = append(deco, "blink")
	}
	if len(deco) > 0 {
		parts = append(parts, "text-decoration:"+strings.Join(deco, " "))
	}
	return strings.Join(parts, ";")
}

func (s *sgrStyle) apply(params ansi.Params) {
	if len(params) == 0 {
		*s = sgrStyle{}
		return
	}
	for i := 0; i < len(params); i++ {
		switch v := params[i].Param(0); {
		case v == 0:
			*s = sgrStyle{}
		case v == 1:
			s.bold = true
		case v == 2:
			s.faint = true
		case v == 3:
			s.italic = true
		case v == 4:
			s.underline = true
		case v == 5 || v == 6:
			s.blink = true
		case v == 7:
			s.reverse = true
		case v == 9:
			s.strike = true
		case v == 22:
			s.bold, s.faint = false, false
		case v == 23:
			s.italic = false
		case v == 24:
			s.underline = false
		case v == 25:
			s.blink = false
		case v == 27:
			s.reverse = false
		case v == 29:
			s.strike = false
		case v >= 30 && v <= 37:
			s.fg = palette16[v-30]
		case v == 39:
			s.fg = ""
		case v >= 40 && v <= 47:
			s.bg = palette16[v-40]
		case v == 49:
			s.bg = ""
		case v >= 90 && v <= 97:
			s.fg = palette16[v-90+8]
		case v >= 100 && v <= 107:
			s.bg = palette16[v-100+8]
		case v == 38 || v == 48 || v == 58:
			var c color.Color
			if n := ansi.ReadStyleColor(params[i:], &c); n > 0 {
				switch v {
				case 38:
					s.fg = cssColor(c)
				case 48:
					s.bg = cssColor(c)
				}
				i += n - 1
				continue
			}
		}
		// Sub-parameters of anything not understood above are dropped.
		for params[i].HasMore() && i+1 < len(params) {
			i++
		}
	}
}

var palette16 = [16]string{
	"#000000", "#b21818", "#18b218", "#b26818", "#1818b2", "#b218b2", "#18b2b2", "#b2b2b2",
	"#686868", "#ff5454", "#54ff54", "#ffff54", "#5454ff", "#ff54ff", "#54ffff", "#ffffff",
}

// cssColor keeps the terminal's own palette for the first 16 indexed
// colours; the rest come from x/ansi's xterm table.
func cssColor(c color.Color) string {
	if idx, ok := c.(ansi.IndexedColor); ok && idx < 16 {
		return palette16[idx]
	}
	r, g, b, a := c.RGBA()
	if a == 0 {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
