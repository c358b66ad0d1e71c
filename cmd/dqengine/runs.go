package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/dqengine/pkg/results"
	"github.com/logflow/dqengine/pkg/tui"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect validation runs in the results backend",
}

var runsListCmd = &cobra.Command{
	Use:   "list [suite]",
	Short: "List stored runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suiteName := ""
		if len(args) == 1 {
			suiteName = args[0]
		}
		return withStore(func(ctx context.Context, store results.Store) error {
			summaries, err := store.List(ctx, suiteName)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				status := "passed"
				if !s.Success {
					status = "failed"
				}
				rows = append(rows, []string{
					s.RunID,
					s.Suite,
					s.StartedAt.Local().Format(time.DateTime),
					status,
					fmt.Sprintf("%d/%d", s.Statistics.Successful, s.Statistics.Evaluated),
				})
			}
			tui.PrintTable(cmd.OutOrStdout(), []string{"run", "suite", "time", "status", "passed"}, rows)
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a stored run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store results.Store) error {
			rec, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			var v interface{}
			if err := json.Unmarshal(rec.Data, &v); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete stored runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store results.Store) error {
			for _, id := range args {
				if err := store.Delete(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", len(args))
			return nil
		})
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func withStore(fn func(ctx context.Context, store results.Store) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := results.Open(ctx, cfg.Results)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("no results backend configured, set results.backend to file or redis")
	}
	defer store.Close()
	return fn(ctx, store)
}
