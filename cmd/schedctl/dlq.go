package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	"github.com/odontosorriso/scheduling-agent/internal/deadletter"
	"github.com/odontosorriso/scheduling-agent/internal/worker"
)

type dlqStore interface {
	Pending(ctx context.Context, limit int, includeRetried bool) ([]deadletter.Entry, error)
	MarkRetried(ctx context.Context, id uuid.UUID) error
}

// openDLQ is swapped in tests.
var openDLQ = func(cmd *cobra.Command) (dlqStore, *bootstrap.Runtime, error) {
	rt, err := openRuntime(cmd.Context(), cmd)
	if err != nil {
		return nil, nil, err
	}
	table := bootstrap.BuildDeadLetters(rt).Table
	if table == nil {
		rt.Close()
		return nil, nil, fmt.Errorf("DATABASE_URL is required for the dead-letter table")
	}
	return table, rt, nil
}

func newDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and resolve dead-lettered messages",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			all, _ := cmd.Flags().GetBool("all")
			store, rt, err := openDLQ(cmd)
			if err != nil {
				return err
			}
			if rt != nil {
				defer rt.Close()
			}

			entries, err := store.Pending(cmd.Context(), limit, all)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered messages.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMESSAGE\tTYPE\tRETRIED\tCREATED\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					e.ID, e.MessageID, e.ErrorType, e.Retried, e.CreatedAt.Format(time.RFC3339), truncate(e.ErrorMessage, 60))
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().Int("limit", 50, "maximum entries to show")
	listCmd.Flags().Bool("all", false, "include entries already marked retried")
	listCmd.Flags().Bool("json", false, "print full entries as JSON")

	markCmd := &cobra.Command{
		Use:   "mark-retried <id>...",
		Short: "Mark entries as handled so the replayer and listings skip them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, raw := range args {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", raw, err)
				}
				ids = append(ids, id)
			}
			store, rt, err := openDLQ(cmd)
			if err != nil {
				return err
			}
			if rt != nil {
				defer rt.Close()
			}
			for _, id := range ids {
				if err := store.MarkRetried(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %s\n", id)
			}
			return nil
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Resend dead-lettered replies now instead of waiting for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			dl := bootstrap.BuildDeadLetters(rt)
			if dl.Table == nil {
				return fmt.Errorf("DATABASE_URL is required for the dead-letter table")
			}
			sender, err := bootstrap.BuildSender(rt)
			if err != nil {
				return err
			}
			n := worker.NewReplayer(dl.Table, sender, rt.Logger).Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "resent %d replies\n", n)
			return nil
		},
	}

	cmd.AddCommand(listCmd, markCmd, replayCmd)
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
