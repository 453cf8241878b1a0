package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odontosorriso/scheduling-agent/internal/app/bootstrap"
	"github.com/odontosorriso/scheduling-agent/internal/conversation"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect or reset customer conversation state",
	}

	getCmd := &cobra.Command{
		Use:   "get <phone>",
		Short: "Show the stored state machine for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeFn, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := mgr.Peek(cmd.Context(), args[0])
			if errors.Is(err, conversation.ErrNotFound) {
				return fmt.Errorf("no active conversation for %s", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <phone>...",
		Short: "Delete stored state so the next message starts fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeFn, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			var failed int
			for _, phone := range args {
				if err := mgr.Clear(cmd.Context(), phone); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "clear %s: %v\n", phone, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", phone)
			}
			if failed > 0 {
				return fmt.Errorf("%d conversation(s) not cleared", failed)
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			mgr, closeFn, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			summaries, err := mgr.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active conversations.")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum conversations to list")

	cmd.AddCommand(getCmd, clearCmd, listCmd)
	return cmd
}

func openManager(cmd *cobra.Command) (*conversation.Manager, func(), error) {
	rt, err := openRuntime(cmd.Context(), cmd)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := bootstrap.BuildStateManager(rt)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return mgr, rt.Close, nil
}
