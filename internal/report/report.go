// Package report renders audit log entries as Markdown or HTML documents.
package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// Report is the input for rendering
type Report struct {
	Title       string
	GeneratedAt time.Time
	Entries     []models.LogEntry
	Directories []models.WatchDirectory // Used to label directory IDs
}

// Summary counts entries per level
type Summary struct {
	Total  int
	Info   int
	Errors int
}

// Summarize counts the report's entries per level
func (r *Report) Summarize() Summary {
	s := Summary{Total: len(r.Entries)}
	for _, e := range r.Entries {
		if e.Level == models.LogError {
			s.Errors++
		} else {
			s.Info++
		}
	}
	return s
}

func (r *Report) title() string {
	if r.Title != "" {
		return r.Title
	}
	return "Conveyor audit log"
}

// Markdown writes the report as a Markdown document with one table row per entry
func Markdown(w io.Writer, r *Report) error {
	labels := make(map[int64]string, len(r.Directories))
	for _, d := range r.Directories {
		labels[d.ID] = d.Label()
	}

	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	sum := r.Summarize()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escapeCell(r.title()))
	fmt.Fprintf(&b, "Generated %s\n\n", generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "**%d** entries, **%d** info, **%d** errors\n\n", sum.Total, sum.Info, sum.Errors)

	if len(r.Entries) == 0 {
		b.WriteString("_No entries._\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("| Date | Directory | Condition | Level | Message |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, e := range r.Entries {
		dir, ok := labels[e.DirectoryID]
		if !ok {
			dir = fmt.Sprintf("#%d", e.DirectoryID)
		}
		fmt.Fprintf(&b, "| %s | %s | #%d | %s | %s |\n",
			e.Date.Format("2006-01-02 15:04:05"),
			escapeCell(dir),
			e.ConditionID,
			levelCell(e.Level),
			escapeCell(e.Message))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// HTML writes the report as a standalone HTML page rendered from its Markdown
func HTML(w io.Writer, r *Report) error {
	var src bytes.Buffer
	if err := Markdown(&src, r); err != nil {
		return err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(r.title()), body.String())
	return err
}

func levelCell(level models.LogLevel) string {
	if level == models.LogError {
		return "**error**"
	}
	return string(level)
}

// escapeCell keeps user text from breaking the table or injecting markup
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
