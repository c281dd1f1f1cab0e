package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// directoryFlags are the editable fields of a watch directory
type directoryFlags struct {
	name           string
	recursive      bool
	polling        bool
	interval       time.Duration
	ignoreDotFiles bool
	disabled       bool
}

func (f *directoryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().BoolVar(&f.recursive, "recursive", false, "Watch subdirectories too")
	cmd.Flags().BoolVar(&f.polling, "polling", false, "Detect new entries by periodic scans instead of native events")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Polling interval (0 = daemon default)")
	cmd.Flags().BoolVar(&f.ignoreDotFiles, "ignore-dotfiles", false, "Ignore entries whose name starts with a dot")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "Store the directory disabled")
}

// apply copies the flags the user set onto d
func (f *directoryFlags) apply(cmd *cobra.Command, d *models.WatchDirectory) {
	flags := cmd.Flags()
	if flags.Changed("name") {
		d.Name = f.name
	}
	if flags.Changed("recursive") {
		d.Recursive = f.recursive
	}
	if flags.Changed("polling") {
		d.UsePolling = f.polling
	}
	if flags.Changed("interval") {
		d.Interval = f.interval
	}
	if flags.Changed("ignore-dotfiles") {
		d.IgnoreDotFiles = f.ignoreDotFiles
	}
	if flags.Changed("disabled") {
		d.Enabled = !f.disabled
	}
}

func newDirectoryCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "directory",
		Aliases: []string{"dir"},
		Short:   "Manage watched directories",
	}

	cmd.AddCommand(newDirectoryListCommand(g))
	cmd.AddCommand(newDirectoryAddCommand(g))
	cmd.AddCommand(newDirectoryUpdateCommand(g))
	cmd.AddCommand(newDirectoryRemoveCommand(g))
	cmd.AddCommand(newDirectorySetEnabledCommand(g, true))
	cmd.AddCommand(newDirectorySetEnabledCommand(g, false))

	return cmd
}

func newDirectoryListCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			dirs, err := st.GetWatchDirectories(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list directories: %w", err)
			}
			counts := make(map[int64]int, len(dirs))
			for _, d := range dirs {
				n, err := st.CountEnabledConditions(cmd.Context(), d.ID)
				if err != nil {
					return fmt.Errorf("failed to count conditions: %w", err)
				}
				counts[d.ID] = n
			}
			return printDirectories(cmd.OutOrStdout(), dirs, counts)
		},
	}
}

func printDirectories(w io.Writer, dirs []models.WatchDirectory, activeConditions map[int64]int) error {
	if len(dirs) == 0 {
		_, err := fmt.Fprintln(w, "No watch directories configured")
		return err
	}

	p := newPalette(w)
	for _, d := range dirs {
		name := d.Name
		if name == "" {
			name = p.dim.Sprint("(unnamed)")
		}
		fmt.Fprintf(w, "%s %s  %s\n", p.header.Sprintf("#%d", d.ID), name, p.enabled(d.Enabled))
		fmt.Fprintf(w, "  path:       %s\n", d.Path)

		mode := "native"
		if d.UsePolling {
			mode = "polling"
			if d.Interval > 0 {
				mode += " every " + d.Interval.String()
			}
		}
		fmt.Fprintf(w, "  mode:       %s, recursive: %s, ignore dotfiles: %s\n", mode, yesNo(d.Recursive), yesNo(d.IgnoreDotFiles))
		fmt.Fprintf(w, "  conditions: %d enabled\n", activeConditions[d.ID])
	}
	return nil
}

func newDirectoryAddCommand(g *globalFlags) *cobra.Command {
	var f directoryFlags

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a directory to watch",
		Long: `Register a directory to watch.

The directory is enabled unless --disabled is given. It is only watched
once it also has at least one enabled condition.

Examples:
  conveyor directory add ~/Downloads --name downloads
  conveyor directory add /mnt/share/inbox --polling --interval 2s --recursive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			d := &models.WatchDirectory{Path: path, Enabled: true}
			f.apply(cmd, d)
			if err := d.Validate(); err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := st.AddWatchDirectory(cmd.Context(), d); err != nil {
				return fmt.Errorf("failed to add directory: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added directory #%d (%s)\n", d.ID, d.Path)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func newDirectoryUpdateCommand(g *globalFlags) *cobra.Command {
	var f directoryFlags
	var path string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a watched directory",
		Long: `Change a watched directory. Only the flags given are changed.

A running daemon restarts the watcher when the path or any watch setting
changes; a name change alone keeps it running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := st.GetWatchDirectory(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to load directory %d: %w", id, err)
			}
			if cmd.Flags().Changed("path") {
				if d.Path, err = filepath.Abs(path); err != nil {
					return fmt.Errorf("failed to resolve path: %w", err)
				}
			}
			f.apply(cmd, d)
			if err := d.Validate(); err != nil {
				return err
			}

			if err := st.UpdateWatchDirectory(cmd.Context(), d); err != nil {
				return fmt.Errorf("failed to update directory %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Updated directory #%d\n", id)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "New directory path")
	f.register(cmd)
	return cmd
}

func newDirectoryRemoveCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a watched directory and its conditions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RemoveWatchDirectory(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to remove directory %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed directory #%d\n", id)
			return err
		},
	}
}

func newDirectorySetEnabledCommand(g *globalFlags, enabled bool) *cobra.Command {
	verb, title, past := "disable", "Disable", "Disabled"
	if enabled {
		verb, title, past = "enable", "Enable", "Enabled"
	}

	return &cobra.Command{
		Use:   verb + " <id>",
		Short: title + " watching a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetWatchDirectoryEnabled(cmd.Context(), id, enabled); err != nil {
				return fmt.Errorf("failed to %s directory %d: %w", verb, id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s directory #%d\n", past, id)
			return err
		},
	}
}
