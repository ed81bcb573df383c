package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	client := transport.NewClient(cfg.ERP, logger)
	resolver := transport.NewRuleResolver(cfg.ERP)

	endpoints := resolver.All()
	if len(os.Args) > 1 {
		ep, ok := resolver.ByID(os.Args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown endpoint %q\n", os.Args[1])
			os.Exit(1)
		}
		endpoints = []transport.Endpoint{ep}
	}

	fmt.Printf("🔍 Probing %d ERP endpoint(s)\n\n", len(endpoints))

	unreachable := 0
	for _, ep := range endpoints {
		if client.Health().Probe(context.Background(), ep) {
			fmt.Printf("✅ %s (%s) is reachable\n", ep.ID, ep.URL)
			continue
		}
		unreachable++
		fmt.Printf("❌ %s (%s) is unreachable\n", ep.ID, ep.URL)
	}

	if unreachable > 0 {
		os.Exit(1)
	}
}
