// Command loadgen probes the running server for oversell: it seeds a product
// with a known stock level, fires concurrent single-unit orders at the HTTP
// API, and checks that exactly stock-many commits happened.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tilvera/stockcore/internal/adapter/storage"
	"github.com/tilvera/stockcore/internal/core/domain"
)

func main() {
	serverAddr := flag.String("server", "http://localhost:8080", "base URL of the stockcore server")
	redisAddr := flag.String("redis", "localhost:6379", "redis address for seeding stock")
	storeID := flag.String("store", "loadgen-store", "store id to use")
	productID := flag.String("product", "loadgen-widget", "product id to use")
	initialStock := flag.Int("stock", 20, "units to seed")
	requests := flag.Int("requests", 50, "concurrent order attempts")
	flag.Parse()

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	repo := storage.NewRedisStock(rdb)
	err := repo.Put(ctx, domain.StockRecord{
		StoreID:       *storeID,
		ProductID:     *productID,
		ProductName:   "Loadgen Widget",
		UnitPrice:     decimal.NewFromFloat(9.99),
		CurrentStock:  *initialStock,
		MinStockLevel: 2,
		MaxStockLevel: 1000,
		Active:        true,
	})
	if err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	var committed, insufficient, other atomic.Int32
	client := &http.Client{Timeout: 10 * time.Second}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *requests; i++ {
		i := i
		g.Go(func() error {
			body, _ := json.Marshal(map[string]interface{}{
				"store_id":        *storeID,
				"customer_id":     fmt.Sprintf("customer-%d", i),
				"idempotency_key": uuid.NewString(),
				"items": []map[string]interface{}{
					{"product_id": *productID, "quantity": 1, "unit_price": "9.99"},
				},
			})
			req, err := http.NewRequestWithContext(gctx, http.MethodPost,
				*serverAddr+"/api/orders", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				committed.Add(1)
			case http.StatusConflict:
				insufficient.Add(1)
			default:
				other.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("request failed: %v", err)
	}
	elapsed := time.Since(start)

	rec, err := repo.Get(ctx, *storeID, *productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== LOADGEN RESULTS ==========")
	fmt.Printf("Initial Stock:     %d\n", *initialStock)
	fmt.Printf("Total Requests:    %d\n", *requests)
	fmt.Printf("Committed:         %d\n", committed.Load())
	fmt.Printf("Insufficient:      %d\n", insufficient.Load())
	fmt.Printf("Other:             %d\n", other.Load())
	fmt.Printf("Final Stock:       %d\n", rec.CurrentStock)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("=====================================")

	expected := int32(*initialStock)
	if int32(*requests) < expected {
		expected = int32(*requests)
	}
	if committed.Load() == expected && rec.CurrentStock == *initialStock-int(expected) {
		fmt.Println("PASS: commits match stock exactly, no oversell")
	} else {
		fmt.Println("FAIL: commit count and remaining stock disagree")
	}
}
