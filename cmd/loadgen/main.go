package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/adapter/storage"
	"github.com/rl1809/repair-market/internal/config"
	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/core/service"
)

const (
	variantID     = "loadgen-variant"
	serviceID     = "loadgen-service"
	initialStock  = 20
	totalRequests = 50
)

// Drives concurrent reservations against real Redis and MySQL to verify
// the no-oversell property end to end.
func main() {
	cfg := config.Load()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	// Clear a stale lock from a previous aborted run
	rdb.Del(ctx, "variant_lock:"+variantID)

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	if err := mysqlAdapter.UpsertService(ctx, serviceID, "loadgen-vendor", "Load Test Service"); err != nil {
		log.Fatalf("failed to seed service: %v", err)
	}
	if err := mysqlAdapter.UpsertVariant(ctx, domain.Variant{
		ID:        variantID,
		ServiceID: serviceID,
		Name:      "Load test variant",
		Price:     decimal.RequireFromString("10.00"),
		Stock:     initialStock,
		Active:    true,
	}); err != nil {
		log.Fatalf("failed to seed variant: %v", err)
	}

	feed := service.NewEventFeed(totalRequests)
	reservations := service.NewReservationService(storage.NewRedisAdapter(rdb), mysqlAdapter, feed)
	defer feed.Close()

	go func() {
		for range feed.Events() {
		}
	}()

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var busyCount atomic.Int32
	var otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := reservations.PlaceOrder(ctx, fmt.Sprintf("user-%d", userID), variantID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrLockTimeout):
				busyCount.Add(1)
			default:
				otherCount.Add(1)
				log.Errorf("user-%d: %v", userID, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	variant, err := mysqlAdapter.GetVariant(ctx, variantID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Printf("=== Load Test Results ===\n")
	fmt.Printf("Total requests:  %d\n", totalRequests)
	fmt.Printf("Successful:      %d\n", successCount.Load())
	fmt.Printf("Sold out:        %d\n", soldOutCount.Load())
	fmt.Printf("Lock timeouts:   %d\n", busyCount.Load())
	fmt.Printf("Other errors:    %d\n", otherCount.Load())
	fmt.Printf("Final stock:     %d\n", variant.Stock)
	fmt.Printf("Elapsed:         %v\n", elapsed)

	if int(successCount.Load()) > initialStock {
		log.Fatalf("OVERSOLD: %d successes for %d units", successCount.Load(), initialStock)
	}
	if variant.Stock != initialStock-int(successCount.Load()) {
		log.Fatalf("stock accounting broken: final %d, expected %d", variant.Stock, initialStock-int(successCount.Load()))
	}
	fmt.Println("no oversell detected")
}
