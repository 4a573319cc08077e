package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round against the shared folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		a.service.TriggerSync()

		status := a.service.SyncStatus()
		if !status.IsOnline {
			return fmt.Errorf("shared folder unreachable; %d changes still pending", status.PendingCount)
		}
		if status.PendingCount > 0 {
			return fmt.Errorf("sync incomplete; %d changes still pending", status.PendingCount)
		}
		fmt.Println("Synced.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		status := a.service.SyncStatus()

		online := "online"
		if !status.IsOnline {
			online = "offline"
		}
		fmt.Printf("State:    %s\n", online)
		fmt.Printf("Pending:  %d\n", status.PendingCount)
		if status.LastSyncAt > 0 {
			fmt.Printf("Last sync: %s\n", time.UnixMilli(status.LastSyncAt).Format(time.RFC3339))
		} else {
			fmt.Printf("Last sync: never\n")
		}
		if status.CircuitOpen {
			fmt.Printf("Circuit:  open")
			if status.NextRetryAt > 0 {
				fmt.Printf(" (next retry %s)", time.UnixMilli(status.NextRetryAt).Format(time.RFC3339))
			}
			fmt.Println()
		}
		return nil
	},
}

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker",
	Short: "Force the circuit breaker closed and retry now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		a.service.ResetCircuitBreaker()
		fmt.Println("Circuit breaker reset.")
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync rounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.hist == nil {
			return fmt.Errorf("sync history unavailable")
		}

		rounds, err := a.hist.Recent(historyLimit)
		if err != nil {
			return err
		}
		if len(rounds) == 0 {
			fmt.Println("No sync rounds recorded yet.")
			return nil
		}

		for _, r := range rounds {
			line := fmt.Sprintf("%s  %-9s %-8s flushed=%d",
				time.UnixMilli(r.StartedAt).Format("2006-01-02 15:04:05"),
				r.Trigger, r.Outcome, r.PendingFlushed)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum rounds to show")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetBreakerCmd)
	rootCmd.AddCommand(historyCmd)
}
