package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/pkg/model"
)

type healthData struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	BootID string `json:"boot_id"`
	Store  string `json:"store"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the queues of a running process via its status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := flagServer
			if base == "" {
				base = "http://" + cfg.Status.Addr
			}
			c := NewClient(base, logger)
			ctx := cmd.Context()

			var health healthData
			if err := c.GetInto(ctx, "/api/v1/health", &health); err != nil {
				return fmt.Errorf("get health: %w", err)
			}
			var snap scheduler.QueueSnapshot
			if err := c.GetInto(ctx, "/api/v1/queues", &snap); err != nil {
				return fmt.Errorf("get queues: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:  %s (store %s)\n", health.Status, health.Store)
			fmt.Fprintf(out, "Boot:    %s\n", health.BootID)
			fmt.Fprintf(out, "Uptime:  %s\n", health.Uptime)
			if snap.Running != nil {
				fmt.Fprintf(out, "Running: task %s\n", snap.Running.ID)
			}
			printQueue(out, "Priority queue", snap.Priority)
			printQueue(out, "Scheduled queue", snap.Scheduled)
			return nil
		},
	}
}

func printQueue(out io.Writer, title string, tasks []model.Task) {
	fmt.Fprintf(out, "\n%s (%d):\n", title, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "  - task %-6s  priority %-4d  plugin %-4s  scheduled %-18s  expires %s\n",
			t.ID, t.Priority, t.PluginID, relTime(t.ScheduledAt), relTime(t.ExpiresAt))
	}
}
