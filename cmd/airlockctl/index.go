package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"colonysim.ai/internal/persistence/indexdb"
)

func openIndex(path string) (*indexdb.SQLiteIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index database: %w", err)
	}
	return indexdb.OpenSQLite(path)
}

func newEventsCmd() *cobra.Command {
	var (
		dbPath string
		f      indexdb.EventFilter
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List indexed airlock events",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			evs, err := idx.Events(context.Background(), f)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICK\tSEQ\tAIRLOCK\tKIND\tAGENT\tZONE\tSTATE\tMODE\tOPERATOR\tCODE")
			for _, ev := range evs {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.Tick, ev.Seq, ev.AirlockID, ev.Kind, dash(ev.AgentID), dash(ev.Zone), ev.State, ev.Mode, dash(ev.Operator), dash(ev.Code))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./data/colonies/colony_1/index/colony.sqlite", "index database path")
	cmd.Flags().StringVar(&f.RunID, "run", "", "only this run id")
	cmd.Flags().StringVar(&f.AirlockID, "airlock", "", "only this airlock")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "only this agent")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "only this event kind (e.g. CYCLE_BEGIN)")
	cmd.Flags().Uint64Var(&f.FromTick, "from", 0, "first tick (inclusive)")
	cmd.Flags().Uint64Var(&f.ToTick, "to", 0, "last tick (inclusive)")
	cmd.Flags().IntVar(&f.Limit, "limit", 200, "maximum rows (0 for all)")
	return cmd
}

func newOutcomesCmd() *cobra.Command {
	var dbPath, runID string
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Summarize traversal outcomes per airlock",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			rows, err := idx.OutcomeSummary(context.Background(), runID)
			if err != nil {
				return fmt.Errorf("query outcomes: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AIRLOCK\tTASK\tRESULT\tCODE\tCOUNT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.AirlockID, r.Task, r.Result, dash(r.Code), r.Count)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./data/colonies/colony_1/index/colony.sqlite", "index database path")
	cmd.Flags().StringVar(&runID, "run", "", "only this run id (default: all runs)")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs and their tuning digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			ctx := context.Background()
			runs, err := idx.Runs(ctx)
			if err != nil {
				return fmt.Errorf("query runs: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCOLONY\tSEED\tTUNING\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.12s\t%s\n", r.RunID, r.ColonyID, r.Seed, r.TuningDigest, r.StartedAt)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			tick, digest, err := idx.LastTick(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "last indexed tick=%d digest=%s\n", tick, dash(digest))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./data/colonies/colony_1/index/colony.sqlite", "index database path")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
