package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var balanceCmd = &cobra.Command{
	Use:     "balance <user-id>",
	Short:   "Show a user's coin balance and latest ledger entries",
	Args:    cobra.ExactArgs(1),
	PreRunE: connect,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		userID := args[0]

		coins, err := svc.Balance(ctx, userID)
		if err != nil {
			return err
		}
		entries, err := svc.History(ctx, userID, historyLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]any{"userId": userID, "coins": coins, "entries": entries})
		}
		fmt.Printf("%s: %d coins\n", userID, coins)
		for _, e := range entries {
			ref := "-"
			if e.EventRef != nil {
				ref = *e.EventRef
			}
			fmt.Printf("  %s  %+6d  %-17s  %s  %s\n", e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.CoinAmount, e.Type, ref, e.Description)
		}
		return nil
	},
}

func init() {
	balanceCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of ledger entries to show")
}
