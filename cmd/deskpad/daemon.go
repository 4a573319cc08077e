package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkrause/deskpad/internal/dashboard"
	"github.com/mkrause/deskpad/internal/engine"
)

var daemonDashboardAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine and dashboard until interrupted",
	Long: `Run the background sync engine:

  1. Periodic sync rounds against the shared folder (every 5s)
  2. Debounced rounds after local mutations
  3. A shared-folder watcher for prompt pickup of other machines' writes
  4. A loopback WebSocket dashboard feeding the overlay windows`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := dashboard.NewServer(&dashboard.Config{Addr: daemonDashboardAddr})
		a.engine.Subscribe(srv.SyncStatusChanged)
		a.service.RegisterObserver(srv)

		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: dashboard shutdown: %v\n", err)
			}
		}()

		watcher, err := engine.NewSnapshotWatcher(a.engine, a.store.Dir(), nil)
		if err == nil {
			// Watch failures are non-fatal: the periodic timer still covers
			// propagation, just more slowly.
			if err := watcher.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: shared folder watch unavailable: %v\n", err)
			} else {
				defer watcher.Stop()
			}
		} else {
			fmt.Fprintf(os.Stderr, "Warning: fsnotify unavailable: %v\n", err)
		}

		// Catch up on whatever happened while this machine was off.
		a.engine.TriggerSync()

		return a.engine.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonDashboardAddr, "dashboard-addr", "127.0.0.1:7317", "address for the dashboard WebSocket server")
	rootCmd.AddCommand(daemonCmd)
}
