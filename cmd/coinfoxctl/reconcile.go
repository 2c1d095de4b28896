package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	Short:   "Compare balances with the ledger and repair stale reservations",
	PreRunE: connect,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := svc.NewReconciler().Run(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		fmt.Println("Reconcile")
		fmt.Printf("  Duration:          %s\n", report.Duration)
		fmt.Printf("  Drifted users:     %d\n", len(report.Drifts))
		fmt.Printf("  Recovered partial: %d\n", report.RecoveredPartial)
		fmt.Printf("  Completed stale:   %d\n", report.CompletedStale)
		fmt.Printf("  Released stale:    %d\n", report.ReleasedStale)
		fmt.Printf("  Held stale:        %d\n", report.HeldStale)
		fmt.Printf("  Failures:          %d\n", report.Failures)
		for _, d := range report.Drifts {
			fmt.Printf("  ! %s balance=%d ledger=%d delta=%+d\n", d.UserID, d.Balance, d.LedgerTotal, d.Delta())
		}
		if len(report.Drifts) > 0 || report.Failures > 0 {
			return fmt.Errorf("reconcile found %d drifted users and %d failures", len(report.Drifts), report.Failures)
		}
		return nil
	},
}
