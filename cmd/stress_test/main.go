package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/adapter/client"
	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/resilience"
)

func main() {
	inventoryURL := flag.String("url", "http://localhost:8081", "inventory-service base URL")
	initialStock := flag.Int("stock", 20, "balance of the test product")
	totalRequests := flag.Int("requests", 50, "number of debits with unique keys")
	sharedRequests := flag.Int("shared", 20, "number of debits that reuse one key")
	flag.Parse()

	ctx := context.Background()

	product, err := createProduct(*inventoryURL, *initialStock)
	if err != nil {
		log.Fatalf("failed to create test product: %v", err)
	}
	log.Printf("created product %s (id %d) with balance %d", product.Code, product.ID, product.Balance)

	cfg := resilience.DefaultConfig()
	cfg.RetryUnit = 100 * time.Millisecond
	inventory := client.NewInventoryClient(*inventoryURL, cfg, zap.NewNop())

	var applied, already, rejected, failed atomic.Int32
	debit := func(key string) {
		outcome, err := inventory.Debit(ctx, key, []domain.DebitItem{{ProductID: product.ID, Quantity: 1}})
		switch {
		case err == nil && outcome == domain.DebitApplied:
			applied.Add(1)
		case err == nil:
			already.Add(1)
		case domain.KindOf(err) == domain.KindInsufficientBalance:
			rejected.Add(1)
		default:
			failed.Add(1)
			log.Printf("debit %s failed: %v", key, err)
		}
	}

	sharedKey := "STRESS-" + uuid.NewString()

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			debit("STRESS-" + uuid.NewString())
		}()
	}
	for i := 0; i < *sharedRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			debit(sharedKey)
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := inventory.GetProduct(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to read final balance: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Balance:  %d\n", *initialStock)
	fmt.Printf("Unique Keys:      %d\n", *totalRequests)
	fmt.Printf("Shared Key Calls: %d\n", *sharedRequests)
	fmt.Printf("Applied:          %d\n", applied.Load())
	fmt.Printf("Already Applied:  %d\n", already.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Final Balance:    %d\n", final.Balance)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	consumed := *initialStock - final.Balance
	if int(applied.Load()) == consumed {
		fmt.Println("PASS: balance dropped by exactly the number of applied debits")
	} else {
		fmt.Printf("FAIL: %d applied but balance dropped by %d\n", applied.Load(), consumed)
	}

	if *sharedRequests > 0 && int(already.Load()) >= *sharedRequests-1 {
		fmt.Println("PASS: shared key applied at most once")
	} else if *sharedRequests > 0 {
		fmt.Printf("FAIL: expected at least %d already-applied answers, got %d\n", *sharedRequests-1, already.Load())
	}
}

func createProduct(baseURL string, balance int) (*domain.Product, error) {
	body, _ := json.Marshal(map[string]any{
		"code":        fmt.Sprintf("STRESS-%d", time.Now().UnixNano()),
		"description": "stress test product",
		"balance":     balance,
	})

	resp, err := http.Post(baseURL+"/api/products", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var p domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
