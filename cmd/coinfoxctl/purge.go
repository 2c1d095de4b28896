package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeEventsCmd = &cobra.Command{
	Use:   "purge-events",
	Short: "Delete completed idempotency markers outside the retention window",
	Long: `Delete completed processed-event markers older than --older-than.
The effective age is never shorter than IDEMPOTENCY_RETENTION, so markers a
processor may still redeliver are kept.`,
	PreRunE: connect,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := svc.PurgeProcessedEvents(context.Background(), purgeOlderThan)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]int64{"deleted": n})
		}
		fmt.Printf("Deleted %d processed events\n", n)
		return nil
	},
}

func init() {
	purgeEventsCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "minimum marker age, e.g. 2160h (defaults to the retention window)")
}
