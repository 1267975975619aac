package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"tasktimer/internal/app"
	"tasktimer/internal/config"
	"tasktimer/internal/store"
)

func parseAt(a *app.App, raw string) (time.Time, error) {
	return config.ParseInstant(raw, a.Now(), a.Location())
}

func printEntries(w io.Writer, entries []store.Entry) {
	for _, e := range entries {
		fmt.Fprintln(w, store.FormatEntry(e))
	}
}

func newAddCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <at> <description...>",
		Short: "Add a one-shot task",
		Long: `Add a one-shot task due at <at>.

<at> accepts RFC3339, "2006-01-02 15:04:05" in the configured timezone,
an offset like "+10m", or Unix milliseconds.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, true, func(a *app.App) error {
				when, err := parseAt(a, args[0])
				if err != nil {
					return err
				}
				desc := strings.Join(args[1:], " ")
				if err := a.Executor().ScheduleOnce(when, desc, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n",
					store.FormatEntry(store.Entry{When: when, Description: desc}), humanize.Time(when))
				return nil
			})
		},
	}
}

func newRemoveCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <at>",
		Aliases: []string{"rm"},
		Short:   "Remove the task due at <at>",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, true, func(a *app.App) error {
				when, err := parseAt(a, args[0])
				if err != nil {
					return err
				}
				desc, err := a.Executor().Remove(when)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", store.FormatEntry(store.Entry{When: when, Description: desc}))
				return nil
			})
		},
	}
}

func newNextCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the earliest task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f, false, func(a *app.App) error {
				e, ok := a.Executor().Next()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no tasks available")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", store.FormatEntry(e), humanize.Time(e.When))
				return nil
			})
		},
	}
}

func newRangeCmd(f *rootFlags) *cobra.Command {
	b := store.HalfOpen
	cmd := &cobra.Command{
		Use:   "range <start> <end>",
		Short: "List tasks due between start and end",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), f, false, func(a *app.App) error {
				start, err := parseAt(a, args[0])
				if err != nil {
					return err
				}
				end, err := parseAt(a, args[1])
				if err != nil {
					return err
				}
				entries := a.Executor().Range(start, end, b)
				if len(entries) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no tasks in range %s\n", store.FormatRange(start, end, b))
					return nil
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&b.IncludeStart, "include-start", b.IncludeStart, "include tasks due exactly at start")
	cmd.Flags().BoolVar(&b.IncludeEnd, "include-end", b.IncludeEnd, "include tasks due exactly at end")
	return cmd
}

func newListCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every stored task in time order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f, false, func(a *app.App) error {
				entries := a.Executor().All()
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no tasks scheduled")
					return nil
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

func newPruneCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop tasks whose instant has already passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f, true, func(a *app.App) error {
				pruned := a.Executor().PruneStale()
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d task(s)\n", len(pruned))
				printEntries(cmd.OutOrStdout(), pruned)
				return nil
			})
		},
	}
}
