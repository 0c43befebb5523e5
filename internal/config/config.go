package config

import (
	"os"
	"strconv"
)

type Config struct {
	HTTPAddr       string
	MySQLDSN       string
	RedisAddr      string
	FrontendURL    string
	BackendURL     string
	SSLCStoreID    string
	SSLCStorePass  string
	SSLCSandbox    bool
	WebhookSecret  string
	Currency       string
	WorkerCount    int
	EventQueueSize int
	SeedDemoData   bool
}

func Load() Config {
	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		MySQLDSN:       getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/repairmarket?parseTime=true"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		FrontendURL:    getenv("FRONTEND_URL", "http://localhost:3000"),
		BackendURL:     getenv("BACKEND_URL", "http://localhost:8080"),
		SSLCStoreID:    getenv("SSLC_STORE_ID", ""),
		SSLCStorePass:  getenv("SSLC_STORE_PASS", ""),
		SSLCSandbox:    getbool("SSLC_IS_SANDBOX", true),
		WebhookSecret:  getenv("WEBHOOK_SECRET", ""),
		Currency:       getenv("CURRENCY", "BDT"),
		WorkerCount:    getint("WORKER_COUNT", 10),
		EventQueueSize: getint("EVENT_QUEUE_SIZE", 10000),
		SeedDemoData:   getbool("SEED_DEMO_DATA", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
