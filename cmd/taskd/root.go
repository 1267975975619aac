package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"tasktimer/internal/app"
)

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "taskd",
		Short:         "Time-ordered task timer",
		Long:          `taskd keeps tasks keyed by the instant they are due and fires each one when its time comes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./tasktimer.json", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(f),
		newAddCmd(f),
		newRemoveCmd(f),
		newNextCmd(f),
		newRangeCmd(f),
		newListCmd(f),
		newPruneCmd(f),
	)
	return root
}

// withApp opens the app, runs fn and shuts the executor down. When save is
// set, the store is written back afterwards.
func withApp(ctx context.Context, f *rootFlags, save bool, fn func(a *app.App) error) error {
	a, err := app.New(ctx, f.config)
	if err != nil {
		return err
	}
	runErr := fn(a)
	a.Executor().Stop(ctx)
	if save && runErr == nil {
		if err := a.Save(ctx); err != nil {
			runErr = fmt.Errorf("save: %w", err)
		}
	}
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
