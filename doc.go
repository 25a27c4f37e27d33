// Package shopgraph provides a typed GraphQL client toolkit for the Shopify
// Admin API, centered on two runtime subsystems: a query-cost-aware HTTP
// transport and a bulk-operation client that streams large exports.
//
// # Architecture
//
// The Admin API charges every GraphQL query a point cost against a
// leaky-bucket budget and reports the charge in each response's
// extensions.cost object. shopgraph mirrors that budget locally:
//
// 1. Cost-Aware Transport (pkg/clients): an http.RoundTripper that pre-pays
// an estimated cost from a local capacity bucket before each request,
// refunds the unused portion once the actual cost is known, resynchronizes
// with the server-reported capacity when throttled, and retries throttled
// requests with exponential backoff.
//
// 2. Bulk Operation Client (pkg/bulk): submits long-running bulk queries,
// polls them to completion, and reconstructs nested connection objects from
// the flat JSONL export file without buffering it — one parent object is
// held in memory at a time.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/shopgraph/shopgraph/pkg/bulk"
//	    "github.com/shopgraph/shopgraph/pkg/clients"
//	    "github.com/shopgraph/shopgraph/pkg/config"
//	)
//
//	cfg := config.NewDefault()
//	cfg.Shop.Domain = "example.myshopify.com"
//	cfg.Shop.AccessToken = "shpat_..."
//
//	gql, _ := clients.NewGraphQLClient(cfg, logger)
//	client := bulk.NewClient(gql, cfg, logger)
//
//	op, stream, err := client.Run(context.Background(), query, variables, registry)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    record := stream.Record()
//	    // ...
//	}
//	err = stream.Err()
//
// # Key Packages
//
//	pkg/clients  - Cost-aware transport and GraphQL client
//	pkg/bulk     - Bulk operation lifecycle and streaming record assembly
//	pkg/webhook  - Webhook HMAC signature verification
//	pkg/auth     - Access token sources and OAuth exchange
//	pkg/config   - Unified configuration management
//	pkg/errors   - Structured error handling
//	pkg/logger   - High-performance structured logging
//	pkg/metrics  - Prometheus metrics collection
//
// Environment variables are supported in config files with ${VAR_NAME}
// syntax, and the CLI loads a .env file when present.
package shopgraph
