package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/adapter/gateway"
	"github.com/rl1809/repair-market/internal/adapter/handler"
	"github.com/rl1809/repair-market/internal/adapter/storage"
	"github.com/rl1809/repair-market/internal/config"
	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/core/service"
	"github.com/rl1809/repair-market/internal/port"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	log.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Info("connected to redis")

	// Initialize adapters
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	if cfg.SeedDemoData {
		seedDemoData(ctx, mysqlAdapter)
	}

	// Initialize services
	feed := service.NewEventFeed(cfg.EventQueueSize)
	reservations := service.NewReservationService(redisAdapter, mysqlAdapter, feed)
	reconciler := service.NewPaymentReconciler(mysqlAdapter, redisAdapter, feed)
	sslcommerz := gateway.NewSSLCommerzClient(cfg.SSLCStoreID, cfg.SSLCStorePass, cfg.SSLCSandbox)

	// Start audit-trail worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, feed.Events(), mysqlAdapter)
		}(i)
	}
	log.Infof("started %d audit workers", cfg.WorkerCount)

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(reservations, reconciler, sslcommerz,
		cfg.FrontendURL, cfg.BackendURL, cfg.WebhookSecret, cfg.Currency)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	router.Use(middleware.Timeout(15 * time.Second))
	httpHandler.Register(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	// Close event feed and wait for workers
	feed.Close()
	wg.Wait()
	log.Info("workers stopped")

	// Close connections
	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func workerLoop(id int, events <-chan domain.OrderEvent, db port.DatabaseRepository) {
	for ev := range events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := db.AppendOrderEvent(ctx, ev); err != nil {
			log.WithFields(log.Fields{
				"worker": id,
				"order":  ev.OrderID,
			}).Errorf("failed to record order event: %v", err)
		}

		cancel()
	}
}

func seedDemoData(ctx context.Context, db *storage.MySQLAdapter) {
	if err := db.UpsertService(ctx, "svc-screen-repair", "vendor-1", "Screen Repair"); err != nil {
		log.Fatalf("failed to seed service: %v", err)
	}
	if err := db.UpsertVariant(ctx, domain.Variant{
		ID:        "variant-iphone-15-screen",
		ServiceID: "svc-screen-repair",
		Name:      "iPhone 15 screen replacement",
		Price:     decimal.RequireFromString("149.99"),
		Stock:     100,
		Active:    true,
	}); err != nil {
		log.Fatalf("failed to seed variant: %v", err)
	}
	log.Info("seeded demo catalog")
}
