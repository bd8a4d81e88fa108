package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <payment-id>...",
		Short: "Fetch payment statuses from the gateway and apply them to their orders",
		Long: `Run the webhook reconciliation for one or more payment ids.

Use it when a notification never arrived, or arrived before the order
carried its payment id. Dedup marks are not consulted.

Examples:
  orders reconcile 123456
  orders reconcile 123456 123457`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()

			a, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, paymentID := range args {
				result, err := a.paymentService.Reconcile(context.Background(), paymentID, service.SourceCLI)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%-16s error: %v\n", paymentID, err)
					continue
				}

				fmt.Fprintf(out, "%-16s %-16s gateway=%s order=%s status=%s\n",
					result.PaymentID,
					result.Outcome,
					valueOrDash(result.GatewayStatus),
					valueOrDash(result.OrderID),
					valueOrDash(string(result.PaymentStatus)),
				)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d payments failed to reconcile", failed, len(args))
			}
			return nil
		},
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
