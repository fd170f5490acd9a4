package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// openStore opens and migrates the configured database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", dbPath)
	return st, nil
}

// pluginKinds maps stored plugin ids to their kinds.
func pluginKinds(ctx context.Context, st store.Store) (map[model.PluginID]string, error) {
	rows, err := st.ListPlugins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	kinds := make(map[model.PluginID]string, len(rows))
	for _, p := range rows {
		kinds[p.ID] = p.Kind
	}
	return kinds, nil
}

// relTime renders ts relative to now, or "-" when unset.
func relTime(ts model.Timestamp) string {
	if !ts.IsSet() {
		return "-"
	}
	return humanize.Time(ts.Time())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
