package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/flightlogic/pkg/model"
)

func newLogsCmd() *cobra.Command {
	var (
		taskID int64
		limit  int
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent persisted log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := model.ListOptions{Limit: limit, TaskID: model.TaskID(taskID)}
			if since > 0 {
				opts.Since = model.TimestampOf(time.Now().Add(-since))
			}
			opts.Clamp()

			entries, total, err := st.ListLogs(ctx, opts)
			if err != nil {
				return fmt.Errorf("list logs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No log entries found.")
				return nil
			}

			// Oldest first reads naturally in a terminal.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				task := "-"
				if e.TaskID != model.NoTask {
					task = e.TaskID.String()
				}
				fmt.Fprintf(out, "%-16s  %-5s  task=%-6s  %s\n", relTime(e.CreatedAt), e.Level, task, e.Message)
			}

			if total > len(entries) {
				fmt.Fprintf(out, "\n(%s of %s shown)\n", humanize.Comma(int64(len(entries))), humanize.Comma(int64(total)))
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&taskID, "task", "t", 0, "Only entries logged by this task")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries shown")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 1h)")
	return cmd
}
