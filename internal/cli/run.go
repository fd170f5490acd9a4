package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me/flightlogic/internal/config"
	"github.com/me/flightlogic/internal/logging"
	"github.com/me/flightlogic/internal/plugins"
	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/server"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/internal/watchdog"
)

func newRunCmd() *cobra.Command {
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the scheduler and run it until interrupted",
		Long: `Boot restores persisted tasks, queues the startup task and runs the
scheduler loop until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("status-addr") {
				cfg.Status.Enabled = true
				cfg.Status.Addr = statusAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFlight(ctx)
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve the status API on this address")
	return cmd
}

// runFlight wires the store, plugins and task manager and runs until ctx ends.
func runFlight(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	bootID := uuid.NewString()
	flightLogger := withPersistence(logger, st).With("boot_id", bootID)

	reg := scheduler.NewPluginRegistry(st, flightLogger)
	plugins.Register(reg, plugins.Deps{Store: st, Config: pluginConfig(), BootID: bootID})

	opts := []scheduler.Option{scheduler.WithPollInterval(cfg.Scheduler.PollInterval)}
	var wd *watchdog.Notifier
	if cfg.Scheduler.Watchdog {
		wd = watchdog.New(flightLogger)
		opts = append(opts, scheduler.WithKeepAlive(wd.Ping))
	}
	mgr := scheduler.NewTaskManager(st, reg, flightLogger, opts...)

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if wd != nil {
		wd.Ready()
	}
	flightLogger.Info("boot complete", "plugins", reg.Kinds())

	var wg sync.WaitGroup
	if cfg.Status.Enabled {
		srv := server.New(st, mgr, logger, server.WithBootID(bootID), server.WithPluginKinds(reg.Kinds()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The scheduler keeps running without its status API.
			if err := srv.ListenAndServe(ctx, cfg.Status.Addr); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}
	if flagConfig != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, flagConfig, logger, func(next config.Config) {
				logLevel.Set(logging.ParseLevel(next.Log.Level))
				logger.Info("log level reloaded", "level", next.Log.Level)
			})
			if err != nil {
				logger.Warn("config watch unavailable", "error", err)
			}
		}()
	}

	err = mgr.Run(ctx)
	if wd != nil {
		wd.Stopping()
	}
	wg.Wait()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		flightLogger.Info("shutdown complete")
		return nil
	}
	return err
}

// withPersistence adds the logs table as a second sink when enabled. The
// store itself keeps the console-only logger.
func withPersistence(console *slog.Logger, st store.Store) *slog.Logger {
	if !cfg.PersistEnabled() {
		return console
	}
	sh := logging.NewStoreHandler(st, logging.StoreConfig{
		Level:      logging.ParseLevel(cfg.Log.PersistLevel),
		RatePerSec: cfg.Log.PersistRate,
	}, scheduler.SystemClock{}.Now)
	return slog.New(logging.Fanout(console.Handler(), sh))
}
