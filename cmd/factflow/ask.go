package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/factflow/pipeline"
)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID  string
		answerOnly bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and print the trace",
		Long: `Runs the question through planning, retrieval and fact checking.

The full trace is printed as JSON unless --answer-only is set. Use --session
to carry the previous exchange into follow-up questions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.manager.Run(ctx, pipeline.Request{
				Query:     strings.Join(args, " "),
				SessionID: sessionID,
			})

			out := cmd.OutOrStdout()
			if answerOnly {
				if runErr == nil {
					fmt.Fprintln(out, res.Answer())
				}
				return runErr
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode trace: %w", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id used for conversation history")
	cmd.Flags().BoolVar(&answerOnly, "answer-only", false, "print only the final answer")
	return cmd
}
