package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/adapter/storage"
	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/core/service"
	"github.com/rl1809/pos-backoffice/internal/port"
	"github.com/rl1809/pos-backoffice/pkg/logger"
)

const (
	stressUserID    = 900001
	stressProductID = 900001
	initialStock    = 20
	totalRequests   = 50
	saleCount       = 5
	lockWait        = 2 * time.Second
	txTimeout       = 10 * time.Second
)

var unitPrice = decimal.RequireFromString("4.99")

// Fires totalRequests single-unit line items at saleCount open sales
// competing for one product with initialStock units, then checks that
// exactly initialStock succeeded and every sale's totals match its items.
// MYSQL_DSN selects MySQL, otherwise the in-memory store is used.
// REDIS_ADDR adds idempotency keys and the stock mirror.
func main() {
	ctx := context.Background()

	log, err := logger.New("production")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, cleanup, err := openStore(ctx)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer cleanup()

	var cache port.CacheRepository
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		rdb.Del(ctx, fmt.Sprintf("stock:%d", stressProductID))
		cache = storage.NewRedisAdapter(rdb, time.Hour)
	}

	if _, err := db.CreateInventory(ctx, stressProductID, initialStock); err != nil {
		log.Fatal("failed to seed inventory", zap.Error(err))
	}
	sales := make([]int64, 0, saleCount)
	for i := 0; i < saleCount; i++ {
		sale, err := db.CreateSale(ctx, stressUserID)
		if err != nil {
			log.Fatal("failed to seed sale", zap.Error(err))
		}
		sales = append(sales, sale.ID)
	}

	svc := service.NewSaleItemService(db, cache, nil, zap.NewNop(), txTimeout)

	var (
		successCount  atomic.Int32
		outOfStock    atomic.Int32
		lockTimeouts  atomic.Int32
		otherFailures atomic.Int32
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			saleID := sales[n%saleCount]
			_, err := svc.SubmitLineItem(ctx, uuid.New().String(), saleID, stressProductID, 1, unitPrice)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock.Add(1)
			case domain.IsRetryable(err):
				lockTimeouts.Add(1)
			default:
				otherFailures.Add(1)
				log.Error("unexpected failure", zap.Int64("sale_id", saleID), zap.Error(err))
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", outOfStock.Load())
	fmt.Printf("Lock timeouts:    %d\n", lockTimeouts.Load())
	fmt.Printf("Other failures:   %d\n", otherFailures.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	check := func(ok bool, format string, args ...any) {
		if ok {
			fmt.Printf("PASS: "+format+"\n", args...)
			return
		}
		failed = true
		fmt.Printf("FAIL: "+format+"\n", args...)
	}

	inv, err := db.GetInventory(ctx, stressProductID)
	if err != nil || inv == nil {
		log.Fatal("failed to read inventory", zap.Error(err))
	}
	check(inv.QuantityInStock == initialStock-int(success),
		"stock %d = %d - %d successful", inv.QuantityInStock, initialStock, success)
	check(inv.QuantityInStock >= 0, "stock never negative")
	if lockTimeouts.Load() == 0 && otherFailures.Load() == 0 {
		check(success == initialStock, "exactly %d line items succeeded", initialStock)
	}

	var items int
	for _, saleID := range sales {
		lines, err := db.ListSaleItems(ctx, saleID)
		if err != nil {
			log.Fatal("failed to list items", zap.Error(err))
		}
		items += len(lines)

		sum := decimal.Zero
		for _, line := range lines {
			sum = sum.Add(line.LineTotal())
		}
		sale, err := db.GetSale(ctx, saleID)
		if err != nil || sale == nil {
			log.Fatal("failed to read sale", zap.Error(err))
		}
		check(sale.Subtotal.Equal(sum.Round(domain.MoneyPlaces)),
			"sale %d subtotal %s matches its %d items", saleID, sale.Subtotal.StringFixed(domain.MoneyPlaces), len(lines))
	}
	check(items == int(success), "%d sale items persisted", items)

	if cache != nil && success > 0 {
		level, err := cache.GetStock(ctx, stressProductID)
		if err != nil || level == nil {
			log.Fatal("failed to read stock mirror", zap.Error(err))
		}
		fmt.Printf("Mirrored stock:   %d (version %d)\n", level.Quantity, level.Version)
		check(level.Quantity == inv.QuantityInStock, "mirror matches committed stock")
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (port.DatabaseRepository, func(), error) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		fmt.Println("MYSQL_DSN not set; using the in-memory store")
		return storage.NewMemoryAdapter(lockWait), func() {}, nil
	}

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(totalRequests)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	adapter := storage.NewMySQLAdapter(sqlDB, lockWait)
	if err := adapter.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	// Clear previous run data
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM sales WHERE user_id = ?`, []any{stressUserID}},
		{`DELETE FROM inventory WHERE product_id = ?`, []any{stressProductID}},
		{`INSERT INTO users (user_id, first_name, last_name, email, password, role)
			VALUES (?, 'Stress', 'Test', 'stress@example.com', 'x', 'cashier')
			ON DUPLICATE KEY UPDATE role = role`, []any{stressUserID}},
		{`INSERT INTO products (product_id, product_name, unit_price)
			VALUES (?, 'Stress product', ?)
			ON DUPLICATE KEY UPDATE unit_price = unit_price`, []any{stressProductID, unitPrice}},
	}
	for _, s := range stmts {
		if _, err := sqlDB.ExecContext(ctx, s.query, s.args...); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("prepare stress data: %w", err)
		}
	}

	return adapter, func() { _ = sqlDB.Close() }, nil
}
