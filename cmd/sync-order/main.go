package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/erpsync/internal/app"
	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/repository/postgres"
)

// concurrent submissions to the ERP
const parallelism = 4

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run cmd/sync-order/main.go <kind> <order-id> [order-id...]")
		fmt.Println("Example: go run cmd/sync-order/main.go ManualSubmit 3f6c1c2e-6a8e-4d53-9f0e-2b1c7f0a9d11")
		os.Exit(1)
	}

	kind := domain.SubmissionKind(os.Args[1])
	if !kind.IsValid() {
		fmt.Fprintf(os.Stderr, "Unknown submission kind %q\n", os.Args[1])
		os.Exit(1)
	}

	ids := make([]uuid.UUID, 0, len(os.Args)-2)
	for _, raw := range os.Args[2:] {
		id, err := uuid.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid order id %q: %v\n", raw, err)
			os.Exit(1)
		}
		ids = append(ids, id)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Connect to database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := app.New(cfg, db, logger)
	sc := domain.SyncContext{
		ActorKey: "cli",
		Settings: cfg.Sync,
	}

	var mu sync.Mutex
	failed := 0

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			order, result, err := engine.Sync.SynchronizeByID(ctx, sc, id, kind)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				fmt.Printf("❌ %s: %v\n", id, err)
			case result.Status == domain.SyncSucceeded && result.Skipped:
				fmt.Printf("⏭️  %s: unchanged, not sent\n", id)
			case result.Status == domain.SyncSucceeded:
				fmt.Printf("✅ %s: %s (ERP order %q)\n", id, order.Status, order.ERPOrderID)
			case result.Status == domain.SyncUnattempted:
				fmt.Printf("⚠️  %s: not attempted: %s\n", id, result.Reason)
			default:
				failed++
				fmt.Printf("❌ %s: %v\n", id, result.Err)
			}
			// one failed order must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	fmt.Printf("\n%d of %d orders synchronized\n", len(ids)-failed, len(ids))
	if failed > 0 {
		os.Exit(1)
	}
}
