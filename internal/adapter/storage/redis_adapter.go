package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

const (
	stockKeyPrefix        = "stock:"
	idempotencyKeyPrefix  = "idem:sale-item:"
	defaultIdempotencyTTL = 24 * time.Hour
)

// The stock mirror is a hash of inventory_id, version, quantity and deleted.
// A write lands only if it supersedes what is stored: a higher inventory_id,
// or the same inventory_id at a higher version that is not deleted.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local id = tonumber(ARGV[1])
local version = tonumber(ARGV[2])

local current = redis.call('HMGET', key, 'inventory_id', 'version', 'deleted')
if current[1] then
	local currentID = tonumber(current[1])
	if id < currentID then
		return 0
	end
	if id == currentID and (current[3] == '1' or version <= tonumber(current[2])) then
		return 0
	end
end

redis.call('HSET', key, 'inventory_id', ARGV[1], 'version', ARGV[2], 'quantity', ARGV[3], 'deleted', '0')
return 1
`)

var deleteStockScript = redis.NewScript(`
local key = KEYS[1]
local id = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'inventory_id')
if current and id < tonumber(current) then
	return 0
end

redis.call('HSET', key, 'inventory_id', ARGV[1], 'version', ARGV[2], 'quantity', '0', 'deleted', '1')
return 1
`)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL}
}

// SetIdempotency claims key. It reports false when an earlier request
// already holds the claim.
func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// ReleaseIdempotency drops a claim so the client may retry a request that failed.
func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// SetStock mirrors level unless the mirror already holds the same or a newer
// level of that product. MySQL stays the source of truth.
func (r *RedisAdapter) SetStock(ctx context.Context, level domain.StockLevel) error {
	return setStockScript.Run(ctx, r.client, []string{stockKey(level.ProductID)},
		level.InventoryID, level.Version, level.Quantity).Err()
}

// DeleteStock leaves a tombstone for the row so that a mirror write still in
// flight for it cannot bring it back.
func (r *RedisAdapter) DeleteStock(ctx context.Context, level domain.StockLevel) error {
	return deleteStockScript.Run(ctx, r.client, []string{stockKey(level.ProductID)},
		level.InventoryID, level.Version).Err()
}

// mirroredStock is the hash layout written by the stock scripts.
type mirroredStock struct {
	InventoryID int64 `redis:"inventory_id"`
	Version     int64 `redis:"version"`
	Quantity    int   `redis:"quantity"`
	Deleted     bool  `redis:"deleted"`
}

// GetStock reads the mirror. It returns nil when the product was never
// mirrored or its row was deleted.
func (r *RedisAdapter) GetStock(ctx context.Context, productID int64) (*domain.StockLevel, error) {
	cmd := r.client.HGetAll(ctx, stockKey(productID))
	fields, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var m mirroredStock
	if err := cmd.Scan(&m); err != nil {
		return nil, fmt.Errorf("scan stock mirror: %w", err)
	}
	if m.Deleted {
		return nil, nil
	}
	return &domain.StockLevel{
		InventoryID: m.InventoryID,
		ProductID:   productID,
		Quantity:    m.Quantity,
		Version:     m.Version,
	}, nil
}

func stockKey(productID int64) string {
	return stockKeyPrefix + strconv.FormatInt(productID, 10)
}
