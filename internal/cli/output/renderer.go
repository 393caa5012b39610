// Package output renders command results as styled tables, markdown, or
// JSON depending on the selected output mode.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Mode selects the output format.
type Mode string

const (
	ModeTable    Mode = "table"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
)

// ParseMode normalizes a user-supplied format string. Unknown values fall
// back to table output.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return ModeJSON
	case "md", "markdown":
		return ModeMarkdown
	default:
		return ModeTable
	}
}

// Renderer writes command output in the selected mode.
type Renderer struct {
	out  io.Writer
	errW io.Writer
	mode Mode
}

// NewRenderer creates a renderer writing to the given streams.
func NewRenderer(out, errW io.Writer, mode Mode) *Renderer {
	return &Renderer{out: out, errW: errW, mode: mode}
}

// Mode returns the renderer's output mode.
func (r *Renderer) Mode() Mode {
	return r.mode
}

// Writer returns the renderer's primary output stream.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// Println writes a line to the primary stream.
func (r *Renderer) Println(args ...any) {
	_, _ = fmt.Fprintln(r.out, args...)
}

// Printf writes formatted text to the primary stream.
func (r *Renderer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Errorf writes formatted text to the error stream.
func (r *Renderer) Errorf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.errW, format, args...)
}

// Table renders a header and rows in the current mode. JSON mode is not
// handled here; commands encode their own structures for it.
func (r *Renderer) Table(header []string, rows [][]string) {
	if len(rows) == 0 {
		r.Println("(0 rows)")
		return
	}

	switch r.mode {
	case ModeMarkdown:
		r.markdownTable(header, rows)
	default:
		r.prettyTable(header, rows)
	}
}

func (r *Renderer) prettyTable(header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(header))
	for i, col := range header {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, cells := range rows {
		row := make(table.Row, len(cells))
		for i, cell := range cells {
			row[i] = cell
		}
		t.AppendRow(row)
	}

	t.Render()
	r.Printf("(%d rows)\n", len(rows))
}

func (r *Renderer) markdownTable(header []string, rows [][]string) {
	r.Printf("| %s |\n", strings.Join(header, " | "))
	seps := make([]string, len(header))
	for i := range seps {
		seps[i] = "---"
	}
	r.Printf("| %s |\n", strings.Join(seps, " | "))
	for _, cells := range rows {
		r.Printf("| %s |\n", strings.Join(cells, " | "))
	}
}

// JSON encodes v with indentation to the primary stream.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
