package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Alanimdeo/conveyor/internal/filelock"
	"github.com/Alanimdeo/conveyor/internal/models"
	"github.com/Alanimdeo/conveyor/internal/report"
)

// logQueryFlags are the filters shared by log list and log export
type logQueryFlags struct {
	directories []int64
	conditions  []int64
	since       string
	limit       int
}

func (f *logQueryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().Int64SliceVar(&f.directories, "directory", nil, "Only entries of these directory IDs")
	cmd.Flags().Int64SliceVar(&f.conditions, "condition", nil, "Only entries of these condition IDs")
	cmd.Flags().StringVar(&f.since, "since", "", "Only entries newer than this age (e.g. 90m, 24h, 7d)")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "Maximum number of entries (0 = all)")
}

func (f *logQueryFlags) query(now time.Time) (models.LogQuery, error) {
	if f.limit < 0 {
		return models.LogQuery{}, fmt.Errorf("--limit must be >= 0, got %d", f.limit)
	}
	q := models.LogQuery{
		DirectoryIDs: f.directories,
		ConditionIDs: f.conditions,
		Limit:        f.limit,
	}
	if f.since != "" {
		age, err := parseAge(f.since)
		if err != nil {
			return models.LogQuery{}, fmt.Errorf("invalid --since: %w", err)
		}
		q.From = now.Add(-age)
	}
	return q, nil
}

// parseAge parses a positive duration, accepting a trailing "d" for days
func parseAge(s string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

func newLogCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read, export and prune the audit log",
	}

	cmd.AddCommand(newLogListCommand(g))
	cmd.AddCommand(newLogExportCommand(g))
	cmd.AddCommand(newLogPruneCommand(g))

	return cmd
}

func newLogListCommand(g *globalFlags) *cobra.Command {
	var f logQueryFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(time.Now())
			if err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.GetLogs(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			return printLogs(cmd.OutOrStdout(), entries)
		},
	}
	f.register(cmd, 50)
	return cmd
}

func printLogs(w io.Writer, entries []models.LogEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No log entries found")
		return err
	}

	p := newPalette(w)
	for _, e := range entries {
		level := p.ok.Sprintf("%-5s", e.Level)
		if e.Level == models.LogError {
			level = p.err.Sprintf("%-5s", e.Level)
		}
		fmt.Fprintf(w, "%s %s %s %s\n",
			p.dim.Sprint(e.Date.Format("2006-01-02 15:04:05")),
			level,
			p.dim.Sprintf("dir=#%d cond=#%d", e.DirectoryID, e.ConditionID),
			e.Message)
	}
	return nil
}

var exportFormats = []string{"json", "yaml", "csv", "markdown", "html"}

func newLogExportCommand(g *globalFlags) *cobra.Command {
	var f logQueryFlags
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit log entries",
		Long: `Export audit log entries for external analysis or backup.

If no output file is specified, data is written to stdout. Output files
are replaced atomically.

Examples:
  # Everything from the last week as JSON
  conveyor log export --since 7d --format json --output week.json

  # An HTML report for directory 1
  conveyor log export --directory 1 --format html --output report.html

Supported formats:
  - json: JSON array of entries
  - yaml: YAML sequence of entries
  - csv: CSV with headers
  - markdown: Markdown report with a summary and one table row per entry
  - html: the Markdown report rendered as a standalone page`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isExportFormat(format) {
				return fmt.Errorf("invalid format '%s': format must be one of %s", format, strings.Join(exportFormats, ", "))
			}
			q, err := f.query(time.Now())
			if err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.GetLogs(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			// Ensure JSON output is [] not null
			if entries == nil {
				entries = []models.LogEntry{}
			}

			var dirs []models.WatchDirectory
			if format == "markdown" || format == "html" {
				if dirs, err = st.GetWatchDirectories(cmd.Context()); err != nil {
					return fmt.Errorf("failed to list directories: %w", err)
				}
			}

			var buf bytes.Buffer
			if err := exportLogs(&buf, format, entries, dirs); err != nil {
				return err
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := filelock.AtomicWrite(output, buf.Bytes()); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", len(entries), output)
			return err
		},
	}
	f.register(cmd, 0)
	cmd.Flags().StringVar(&format, "format", "json", "Export format ("+strings.Join(exportFormats, "|")+")")
	cmd.Flags().StringVar(&output, "output", "", "Output file path (stdout if not specified)")
	return cmd
}

func isExportFormat(format string) bool {
	for _, f := range exportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func exportLogs(w io.Writer, format string, entries []models.LogEntry, dirs []models.WatchDirectory) error {
	switch format {
	case "json":
		return exportJSON(w, entries)
	case "yaml":
		return exportYAML(w, entries)
	case "csv":
		return exportCSV(w, entries)
	case "markdown":
		return report.Markdown(w, &report.Report{GeneratedAt: time.Now(), Entries: entries, Directories: dirs})
	case "html":
		return report.HTML(w, &report.Report{GeneratedAt: time.Now(), Entries: entries, Directories: dirs})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func exportJSON(w io.Writer, entries []models.LogEntry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func exportYAML(w io.Writer, entries []models.LogEntry) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

func exportCSV(w io.Writer, entries []models.LogEntry) error {
	csvWriter := csv.NewWriter(w)

	header := []string{"id", "date", "directory_id", "condition_id", "level", "message"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.Date.Format(time.RFC3339),
			strconv.FormatInt(e.DirectoryID, 10),
			strconv.FormatInt(e.ConditionID, 10),
			string(e.Level),
			e.Message,
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func newLogPruneCommand(g *globalFlags) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit log entries older than a given age",
		Long: `Delete audit log entries older than a given age.

Examples:
  conveyor log prune --older-than 30d
  conveyor log prune --older-than 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return fmt.Errorf("invalid --older-than: %w", err)
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PruneLogs(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return fmt.Errorf("failed to prune audit log: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log entries\n", n)
			return err
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "Age of the oldest entry to keep (e.g. 30d, 12h)")
	_ = cmd.MarkFlagRequired("older-than")
	return cmd
}
