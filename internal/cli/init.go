package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acqadvantage/relay/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "relay-config.json"
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", output)
			}

			cfg := config.Config{
				Server: config.ServerConfig{
					Addr:           ":8080",
					AllowedOrigins: []string{"*"},
				},
				Engine: config.EngineConfig{
					APIKey:      os.Getenv("OPENAI_API_KEY"),
					AssistantID: os.Getenv("ASSISTANT_ID"),
				},
				UserStore: config.UserStoreConfig{
					Driver:  "backendless",
					BaseURL: os.Getenv("BACKENDLESS_BASE_URL"),
				},
				Quota:    config.QuotaConfig{DailyLimit: 100},
				Delivery: config.DeliveryConfig{Mode: "heartbeat"},
				Billing: config.BillingConfig{
					StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
					StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
				},
				Logging: config.LoggingConfig{Level: "info", Format: "json"},
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			cmd.Printf("wrote %s, fill in the engine, userstore and billing sections before running\n", output)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./relay-config.json)")
	return cmd
}
