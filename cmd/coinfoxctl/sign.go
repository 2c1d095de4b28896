package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
)

var signFile string

// signCmd produces a Paymongo-Signature header for a local payload, for
// replaying deliveries against a dev server.
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print the webhook signature header for a payload (stdin or --file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		env.SetupEnvFile()
		secret := env.GetEnv("PAYMONGO_WEBHOOK_SECRET", "")
		if secret == "" {
			return payment.ErrMisconfigured
		}

		var (
			body []byte
			err  error
		)
		if signFile != "" {
			body, err = os.ReadFile(signFile)
		} else {
			body, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		header := payment.SignWebhookPayload(body, secret, time.Now())
		if jsonOutput {
			return printJSON(map[string]string{"header": payment.SignatureHeader, "value": header})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", payment.SignatureHeader, header)
		return nil
	},
}

func init() {
	signCmd.Flags().StringVarP(&signFile, "file", "f", "", "payload file (default stdin)")
}
