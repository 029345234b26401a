package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/factflow/pkg/preprocess"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var evict bool

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show or clear the stored exchanges of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var c closers
			defer func() { _ = c.Close() }()

			sessions, err := buildSessions(ctx, root.cfg, &c)
			if err != nil {
				return err
			}
			id := args[0]

			if evict {
				return sessions.Evict(ctx, id)
			}

			entries, err := sessions.History(ctx, id)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s has no history\n", id)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tQUESTION\tANSWER")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.At.Format(time.RFC3339), preprocess.Truncate(e.Question, 60), preprocess.Truncate(e.Answer, 80))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&evict, "clear", false, "delete the session instead of printing it")
	return cmd
}
