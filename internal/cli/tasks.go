package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/flightlogic/pkg/model"
)

func newTasksCmd() *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List active tasks, or all tasks with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			kinds, err := pluginKinds(ctx, st)
			if err != nil {
				return err
			}

			var (
				tasks []*model.Task
				total int
			)
			if all {
				opts := model.ListOptions{Limit: limit}
				opts.Clamp()
				tasks, total, err = st.ListTasks(ctx, opts)
			} else {
				tasks, err = st.ListActiveTasks(ctx, true)
				total = len(tasks)
			}
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			const row = "%-8s  %-8s  %-14s  %-20s  %-20s  %-6s  %s\n"
			fmt.Fprintf(out, row, "ID", "PRIORITY", "KIND", "SCHEDULED", "EXPIRES", "ACTIVE", "ENDED")
			fmt.Fprintf(out, row, "--", "--------", "----", "---------", "-------", "------", "-----")
			for _, t := range tasks {
				kind := kinds[t.PluginID]
				if kind == "" {
					kind = "?" + t.PluginID.String()
				}
				fmt.Fprintf(out, row, t.ID, fmt.Sprint(t.Priority), kind,
					relTime(t.ScheduledAt), relTime(t.ExpiresAt), yesNo(t.Active), relTime(t.EndedAt))
			}

			if total > len(tasks) {
				fmt.Fprintf(out, "\n(%s of %s shown)\n", humanize.Comma(int64(len(tasks))), humanize.Comma(int64(total)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include finished tasks, newest first")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum tasks listed with --all")
	return cmd
}
