package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/flightlogic/internal/plugins"
	"github.com/me/flightlogic/internal/scheduler"
)

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugin kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := scheduler.NewPluginRegistry(st, logger)
			plugins.Register(reg, plugins.Deps{Store: st, Config: pluginConfig()})

			kinds, err := pluginKinds(ctx, st)
			if err != nil {
				return err
			}
			ids := make(map[string]string, len(kinds))
			for id, kind := range kinds {
				ids[kind] = id.String()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-14s  %s\n", "KIND", "ID")
			fmt.Fprintf(out, "%-14s  %s\n", "----", "--")
			for _, kind := range reg.Kinds() {
				id, ok := ids[kind]
				if !ok {
					id = "(not loaded)"
				}
				fmt.Fprintf(out, "%-14s  %s\n", kind, id)
			}
			return nil
		},
	}
}

// pluginConfig maps the loaded configuration onto the plugin settings.
func pluginConfig() plugins.Config {
	return plugins.Config{
		HeartbeatPeriod:      cfg.Plugins.HeartbeatPeriod,
		BeaconPeriod:         cfg.Plugins.BeaconPeriod,
		HousekeepingSchedule: cfg.Plugins.HousekeepingSchedule,
		LogRetention:         cfg.Plugins.LogRetention,
	}
}
