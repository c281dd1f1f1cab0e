package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// conditionFlags are the editable fields of a watch condition
type conditionFlags struct {
	name        string
	pattern     string
	regexp      bool
	kind        string
	destination string
	priority    int
	delay       time.Duration
	disabled    bool

	renamePattern    string
	renameRegexp     bool
	renameReplace    string
	excludeExtension bool
	noRename         bool
}

func (f *conditionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "Name pattern (substring, or regular expression with --regexp)")
	cmd.Flags().BoolVar(&f.regexp, "regexp", false, "Treat --pattern as a regular expression")
	cmd.Flags().StringVar(&f.kind, "type", string(models.KindAll), "Entry kind to match (file, directory, all)")
	cmd.Flags().StringVar(&f.destination, "destination", "", `Destination directory ("$" = rename in place)`)
	cmd.Flags().IntVar(&f.priority, "priority", 0, "Rule order, lower values are tried first")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Extra wait after the entry is stable")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "Store the condition disabled")

	cmd.Flags().StringVar(&f.renamePattern, "rename-pattern", "", "Text to replace in the entry name")
	cmd.Flags().BoolVar(&f.renameRegexp, "rename-regexp", false, "Treat --rename-pattern as a regular expression")
	cmd.Flags().StringVar(&f.renameReplace, "rename-replace", "", "Replacement for --rename-pattern")
	cmd.Flags().BoolVar(&f.excludeExtension, "exclude-extension", false, "Rename only the name before the extension")
}

// apply copies the flags the user set onto c
func (f *conditionFlags) apply(cmd *cobra.Command, c *models.WatchCondition) error {
	flags := cmd.Flags()
	if flags.Changed("name") {
		c.Name = f.name
	}
	if flags.Changed("pattern") {
		c.Pattern = f.pattern
	}
	if flags.Changed("regexp") {
		c.UseRegExp = f.regexp
	}
	if flags.Changed("type") || c.Type == "" {
		kind, err := models.ParseFileKind(f.kind)
		if err != nil {
			return err
		}
		c.Type = kind
	}
	if flags.Changed("destination") {
		c.Destination = f.destination
	}
	if flags.Changed("priority") {
		c.Priority = f.priority
	}
	if flags.Changed("delay") {
		c.Delay = f.delay
	}
	if flags.Changed("disabled") {
		c.Enabled = !f.disabled
	}

	if f.noRename {
		c.RenamePattern = nil
		return nil
	}
	renameFlags := []string{"rename-pattern", "rename-regexp", "rename-replace", "exclude-extension"}
	touched := false
	for _, name := range renameFlags {
		if flags.Changed(name) {
			touched = true
		}
	}
	if !touched {
		return nil
	}
	if c.RenamePattern == nil {
		c.RenamePattern = &models.RenamePattern{}
	}
	if flags.Changed("rename-pattern") {
		c.RenamePattern.Pattern = f.renamePattern
	}
	if flags.Changed("rename-regexp") {
		c.RenamePattern.UseRegExp = f.renameRegexp
	}
	if flags.Changed("rename-replace") {
		c.RenamePattern.ReplaceValue = f.renameReplace
	}
	if flags.Changed("exclude-extension") {
		c.RenamePattern.ExcludeExtension = f.excludeExtension
	}
	return nil
}

func newConditionCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "condition",
		Aliases: []string{"cond", "rule"},
		Short:   "Manage the conditions of watched directories",
	}

	cmd.AddCommand(newConditionListCommand(g))
	cmd.AddCommand(newConditionAddCommand(g))
	cmd.AddCommand(newConditionUpdateCommand(g))
	cmd.AddCommand(newConditionRemoveCommand(g))
	cmd.AddCommand(newConditionSetEnabledCommand(g, true))
	cmd.AddCommand(newConditionSetEnabledCommand(g, false))

	return cmd
}

func newConditionListCommand(g *globalFlags) *cobra.Command {
	var directoryID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conditions in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			conds, err := st.GetWatchConditions(cmd.Context(), directoryID, false)
			if err != nil {
				return fmt.Errorf("failed to list conditions: %w", err)
			}
			return printConditions(cmd.OutOrStdout(), conds)
		},
	}
	cmd.Flags().Int64Var(&directoryID, "directory", 0, "Only list conditions of this directory")
	return cmd
}

func printConditions(w io.Writer, conds []models.WatchCondition) error {
	if len(conds) == 0 {
		_, err := fmt.Fprintln(w, "No conditions configured")
		return err
	}

	p := newPalette(w)
	for _, c := range conds {
		name := c.Name
		if name == "" {
			name = p.dim.Sprint("(unnamed)")
		}
		fmt.Fprintf(w, "%s %s  %s\n", p.header.Sprintf("#%d", c.ID), name, p.enabled(c.Enabled))

		match := fmt.Sprintf("contains %q", c.Pattern)
		if c.UseRegExp {
			match = fmt.Sprintf("regexp %q", c.Pattern)
		}
		fmt.Fprintf(w, "  directory:   #%d, priority %d, type %s\n", c.DirectoryID, c.Priority, c.Type)
		fmt.Fprintf(w, "  match:       %s\n", match)

		dest := c.Destination
		if c.IsSelfDestination() {
			dest = models.DestinationSelf + " (same directory)"
		}
		fmt.Fprintf(w, "  destination: %s\n", dest)
		if c.Delay > 0 {
			fmt.Fprintf(w, "  delay:       %s\n", c.Delay)
		}
		if r := c.RenamePattern; r != nil {
			mode := "text"
			if r.UseRegExp {
				mode = "regexp"
			}
			ext := ""
			if r.ExcludeExtension {
				ext = ", keep extension"
			}
			fmt.Fprintf(w, "  rename:      %s %q -> %q%s\n", mode, r.Pattern, r.ReplaceValue, ext)
		}
	}
	return nil
}

func newConditionAddCommand(g *globalFlags) *cobra.Command {
	var f conditionFlags
	var directoryID int64

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a condition to a watched directory",
		Long: `Add a condition to a watched directory.

Conditions are tried in priority order, lowest first; the first one that
matches a new entry wins. An empty pattern matches every name.

Examples:
  # Move PDFs into ~/Documents
  conveyor condition add --directory 1 --regexp --pattern '\.pdf$' --destination ~/Documents

  # Rename in place, replacing spaces with underscores
  conveyor condition add --directory 1 --destination '$' --rename-pattern ' ' --rename-replace _`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &models.WatchCondition{DirectoryID: directoryID, Enabled: true}
			if err := f.apply(cmd, c); err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}

			st, _, err := g.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := st.AddWatchCondition(cmd.Context(), c); err != nil {
				return fmt.Errorf("failed to add condition: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added condition #%d to directory #%d\n", c.ID, c.DirectoryID)
			return err
		},
	}
	cmd.Flags().Int64Var(&directoryID, "directory", 0, "Owning directory ID (required)")
	f.register(cmd)
	_ = cmd.MarkFlagRequired("directory")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newConditionUpdateCommand(g *globalFlags) *cobra.Command {
	var f conditionFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a condition",
		Long: `Change a condition. Only the flags given are changed.
Use --no-rename to drop the rename pattern.`,
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

			c, err := st.GetWatchCondition(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to load condition %d: %w", id, err)
			}
			if err := f.apply(cmd, c); err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}

			if err := st.UpdateWatchCondition(cmd.Context(), c); err != nil {
				return fmt.Errorf("failed to update condition %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Updated condition #%d\n", id)
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.noRename, "no-rename", false, "Remove the rename pattern")
	cmd.MarkFlagsMutuallyExclusive("no-rename", "rename-pattern")
	return cmd
}

func newConditionRemoveCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a condition",
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

			if err := st.RemoveWatchCondition(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to remove condition %d: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed condition #%d\n", id)
			return err
		},
	}
}

func newConditionSetEnabledCommand(g *globalFlags, enabled bool) *cobra.Command {
	verb, title, past := "disable", "Disable", "Disabled"
	if enabled {
		verb, title, past = "enable", "Enable", "Enabled"
	}

	return &cobra.Command{
		Use:   verb + " <id>",
		Short: title + " a condition",
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

			if err := st.SetWatchConditionEnabled(cmd.Context(), id, enabled); err != nil {
				return fmt.Errorf("failed to %s condition %d: %w", verb, id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s condition #%d\n", past, id)
			return err
		},
	}
}
