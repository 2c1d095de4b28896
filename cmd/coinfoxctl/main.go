package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
	"github.com/ManuelReschke/CoinFox/internal/pkg/database"
	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
	"github.com/ManuelReschke/CoinFox/internal/pkg/events"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
)

var (
	jsonOutput bool

	svc       *payment.Service
	publisher events.Publisher
)

// connect wires the payment service the same way the server does. Commands
// that only need local computation skip it.
func connect(cmd *cobra.Command, args []string) error {
	env.SetupEnvFile()
	cfg, err := payment.LoadConfig()
	if err != nil {
		return fmt.Errorf("payment config: %w", err)
	}
	database.SetupDatabase()
	var rdb *redis.Client
	if cfg.Backend == payment.BackendRedis {
		rdb = cache.GetClient()
	}
	publisher = events.NewPublisherFromEnv()
	svc = payment.NewServiceFromDB(cfg, database.GetDB(), rdb, publisher)
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "coinfoxctl",
	Short:         "Operator tool for the CoinFox payment service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if publisher != nil {
			publisher.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(purgeEventsCmd)
	rootCmd.AddCommand(signCmd)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
