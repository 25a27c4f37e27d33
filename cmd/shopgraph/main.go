package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/bulk"
	"github.com/shopgraph/shopgraph/pkg/clients"
	"github.com/shopgraph/shopgraph/pkg/config"
	jsonpool "github.com/shopgraph/shopgraph/pkg/json"
	"github.com/shopgraph/shopgraph/pkg/logger"
	"github.com/shopgraph/shopgraph/pkg/webhook"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string

	root := &cobra.Command{
		Use:   "shopgraph",
		Short: "Shopgraph - Shopify Admin API GraphQL client toolkit",
		Long: `Shopgraph talks to the Shopify Admin GraphQL API with cost-aware rate
limiting and runs bulk operations end to end, streaming their JSONL
results back as assembled records.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional, env vars otherwise)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Shopgraph v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var queryFile string
	var timeout time.Duration

	runCmd := &cobra.Command{
		Use:   "bulk-run",
		Short: "Run a bulk query and stream its records to stdout as JSONL",
		Long: `Submit the query from the given file as a bulk operation, poll it to
completion, and print each assembled record to stdout as one JSON line.

Example:
  shopgraph bulk-run --query products.graphql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(configFile, queryFile, timeout)
		},
	}
	runCmd.Flags().StringVarP(&queryFile, "query", "q", "", "Path to the GraphQL query file (required)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "Overall timeout for the bulk run")
	_ = runCmd.MarkFlagRequired("query")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "bulk-status",
		Short: "Show the shop's current bulk operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(configFile)
		},
	})

	var secret string
	var hmacHeader string
	verifyCmd := &cobra.Command{
		Use:   "verify-webhook",
		Short: "Verify a webhook payload read from stdin against its HMAC header",
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyWebhook(secret, hmacHeader)
		},
	}
	verifyCmd.Flags().StringVar(&secret, "secret", "", "Webhook signing secret (required)")
	verifyCmd.Flags().StringVar(&hmacHeader, "hmac", "", "Value of the "+webhook.HeaderName+" header (required)")
	_ = verifyCmd.MarkFlagRequired("secret")
	_ = verifyCmd.MarkFlagRequired("hmac")
	root.AddCommand(verifyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration from the given file or the environment.
func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.FromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newClients(configFile string) (*clients.GraphQLClient, *bulk.Client, *config.Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := logger.Init(cfg.Observability.LogLevel); err != nil {
		return nil, nil, nil, err
	}

	log := logger.Get().With(zap.String("component", "shopgraph-cli"))
	gql, err := clients.NewGraphQLClient(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return gql, bulk.NewClient(gql, cfg, log), cfg, nil
}

func runBulk(configFile, queryFile string, timeout time.Duration) error {
	query, err := os.ReadFile(queryFile) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to read query file %s: %w", queryFile, err)
	}

	gql, bulkClient, cfg, err := newClients(configFile)
	if err != nil {
		return err
	}
	defer gql.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = context.WithValue(ctx, logger.ShopKey, cfg.Shop.Domain)

	start := time.Now()
	op, stream, err := bulkClient.Run(ctx, string(query), nil, nil)
	if err != nil {
		return fmt.Errorf("bulk run failed: %w", err)
	}
	defer stream.Close()

	out := os.Stdout
	count := 0
	for stream.Next() {
		// Encode appends the newline, keeping the output valid JSONL.
		if err := jsonpool.MarshalToWriter(out, stream.Record()); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		count++
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("record stream failed: %w", err)
	}

	logger.WithContext(ctx).Info("bulk run finished",
		zap.String("operation_id", op.ID),
		zap.String("status", string(op.Status)),
		zap.Int("records", count),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func showStatus(configFile string) error {
	gql, bulkClient, _, err := newClients(configFile)
	if err != nil {
		return err
	}
	defer gql.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	op, err := bulkClient.Current(ctx)
	if err != nil {
		return err
	}
	if op == nil {
		fmt.Println("No bulk operation found for this shop")
		return nil
	}

	data, err := jsonpool.MarshalIndent(op, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func verifyWebhook(secret, hmacHeader string) error {
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read payload from stdin: %w", err)
	}

	if !webhook.Verify(body, hmacHeader, secret) {
		return fmt.Errorf("webhook signature verification failed")
	}
	fmt.Println("Webhook signature OK")
	return nil
}
