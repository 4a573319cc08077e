// Command deskpad is the sync engine and CLI for the deskpad quick-capture
// tool: a local cache of tasks and notes kept consistent across machines
// through a snapshot file on a shared network folder.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mkrause/deskpad/internal/breaker"
	"github.com/mkrause/deskpad/internal/cache"
	"github.com/mkrause/deskpad/internal/config"
	"github.com/mkrause/deskpad/internal/engine"
	"github.com/mkrause/deskpad/internal/history"
	"github.com/mkrause/deskpad/internal/lock"
	"github.com/mkrause/deskpad/internal/service"
	"github.com/mkrause/deskpad/internal/shared"
)

var rootCmd = &cobra.Command{
	Use:   "deskpad",
	Short: "Offline-tolerant tasks and notes synced over a shared folder",
	Long: `deskpad keeps a local cache of tasks and notes and synchronizes it
with a snapshot file on a shared network folder, so several machines
(used one at a time) see the same data even after being offline.`,
	SilenceUsage: true,
}

// app is the composition root: every long-lived component constructed once
// and passed by handle, no package-level singletons.
type app struct {
	cfg     *config.Config
	cache   *cache.Store
	store   *shared.Accessor
	lock    *lock.FileLock
	breaker *breaker.Breaker
	hist    *history.DB
	engine  *engine.Engine
	service *service.Service
}

// newApp wires the engine together. withHistory controls whether the sync
// history database is opened; one-shot commands that never sync skip it.
func newApp(withHistory bool) (*app, error) {
	dir, err := config.DefaultDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}

	sharedDir := cfg.SharedDir()
	if sharedDir == "" {
		return nil, fmt.Errorf("no shared folder configured: run 'deskpad setup <dir>' or set %s", config.EnvSharedDir)
	}

	cacheStore, err := cache.Open(cache.DefaultPath(dir), nil)
	if err != nil {
		return nil, err
	}

	var hist *history.DB
	if withHistory {
		hist, err = history.Open(history.DefaultPath(dir))
		if err != nil {
			// History is advisory; run without it.
			fmt.Fprintf(os.Stderr, "Warning: sync history unavailable: %v\n", err)
			hist = nil
		}
	}

	a := &app{
		cfg:     cfg,
		cache:   cacheStore,
		store:   shared.New(sharedDir, cfg.MachineID, nil),
		lock:    lock.New(sharedDir, cfg.MachineID, nil),
		breaker: breaker.New(nil),
		hist:    hist,
	}
	a.engine = engine.New(a.cache, a.store, a.lock, a.breaker, a.cfg, a.hist, nil)
	a.service = service.New(a.cache, a.engine, nil)
	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.hist != nil {
		_ = a.hist.Close()
	}
}

var setupCmd = &cobra.Command{
	Use:   "setup <shared-folder>",
	Short: "Record the shared folder path for this machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.DefaultDir()
		if err != nil {
			return err
		}
		cfg, err := config.Load(filepath.Join(dir, "config.json"))
		if err != nil {
			return err
		}

		sharedDir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if info, err := os.Stat(sharedDir); err != nil || !info.IsDir() {
			return fmt.Errorf("%s is not an accessible directory", sharedDir)
		}

		if err := cfg.SetSharedDir(sharedDir); err != nil {
			return err
		}
		fmt.Printf("Shared folder set to %s (machine %s)\n", sharedDir, cfg.MachineID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
