package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alanimdeo/conveyor/internal/models"
)

func sampleReport() *Report {
	at := time.Date(2024, 5, 4, 10, 30, 0, 0, time.Local)
	return &Report{
		GeneratedAt: at,
		Directories: []models.WatchDirectory{{ID: 1, Name: "downloads", Path: "/home/u/Downloads"}},
		Entries: []models.LogEntry{
			{ID: 2, Date: at, DirectoryID: 1, ConditionID: 4, Level: models.LogError, Message: "Failed to move a|b.txt to /x: permission denied"},
			{ID: 1, Date: at.Add(-time.Minute), DirectoryID: 9, ConditionID: 5, Level: models.LogInfo, Message: "Moving <c>.txt to /y"},
		},
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{Total: 2, Info: 1, Errors: 1}, sampleReport().Summarize())
	assert.Equal(t, Summary{}, (&Report{}).Summarize())
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, sampleReport()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Conveyor audit log\n"))
	assert.Contains(t, out, "**2** entries, **1** info, **1** errors")
	assert.Contains(t, out, "| Date | Directory | Condition | Level | Message |")
	assert.Contains(t, out, "| 2024-05-04 10:30:00 | #1 downloads (/home/u/Downloads) | #4 | **error** | Failed to move a\\|b.txt to /x: permission denied |")
	assert.Contains(t, out, "| #9 | #5 | info | Moving &lt;c&gt;.txt to /y |", "unknown directories fall back to their id")
}

func TestMarkdown_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, &Report{Title: "Nothing here"}))
	assert.Contains(t, buf.String(), "# Nothing here")
	assert.Contains(t, buf.String(), "_No entries._")
	assert.NotContains(t, buf.String(), "| Date |")
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "<title>Conveyor audit log</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<th>Message</th>")
	assert.Contains(t, out, "<strong>error</strong>")
	assert.Contains(t, out, "a|b.txt", "escaped pipe stays inside its cell")
	assert.NotContains(t, out, "<c>")
	assert.Equal(t, 2, strings.Count(out, "<tr>")-1, "one row per entry plus the header")
}
