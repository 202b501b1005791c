package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	GRPCPort    string
	Environment string

	// MySQLDSN must carry parseTime=true so DATETIME columns scan into time.Time.
	MySQLDSN             string
	MySQLMaxOpenConns    int
	MySQLMaxIdleConns    int
	MySQLConnMaxLifetime time.Duration
	Migrate              bool

	LockWaitTimeout time.Duration
	TxTimeout       time.Duration

	// RedisAddr empty disables idempotency keys and the stock mirror.
	RedisAddr      string
	RedisPoolSize  int
	IdempotencyTTL time.Duration

	// KafkaBrokers empty publishes events to the log only.
	KafkaBrokers        []string
	KafkaTopicSales     string
	KafkaClientID       string
	EventWorkers        int
	EventQueueSize      int
	LowStockThreshold   int
	ShutdownGracePeriod time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MySQLDSN:             getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/pos?parseTime=true"),
		MySQLMaxOpenConns:    getEnvAsInt("MYSQL_MAX_OPEN_CONNS", 50),
		MySQLMaxIdleConns:    getEnvAsInt("MYSQL_MAX_IDLE_CONNS", 25),
		MySQLConnMaxLifetime: getEnvAsDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		Migrate:              getEnvAsBool("MIGRATE", true),

		LockWaitTimeout: getEnvAsDuration("LOCK_WAIT_TIMEOUT", 5*time.Second),
		TxTimeout:       getEnvAsDuration("TX_TIMEOUT", 10*time.Second),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 100),
		IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicSales:     getEnv("KAFKA_TOPIC_SALES", "pos.sales"),
		KafkaClientID:       getEnv("KAFKA_CLIENT_ID", "pos-backoffice"),
		EventWorkers:        getEnvAsInt("EVENT_WORKERS", 4),
		EventQueueSize:      getEnvAsInt("EVENT_QUEUE_SIZE", 1000),
		LowStockThreshold:   getEnvAsInt("LOW_STOCK_THRESHOLD", 5),
		ShutdownGracePeriod: getEnvAsDuration("SHUTDOWN_GRACE_PERIOD", 5*time.Second),
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return result
}
