package port

import (
	"context"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency claims a key, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops a claim so the request can be submitted again
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetStock mirrors a committed stock level. A level that does not
	// supersede the mirrored one is ignored, so writes may arrive in any order.
	SetStock(ctx context.Context, level domain.StockLevel) error

	// DeleteStock marks the row behind level as gone. Late writes for that
	// row are ignored afterwards.
	DeleteStock(ctx context.Context, level domain.StockLevel) error

	// GetStock returns the mirrored level, nil when nothing is mirrored
	GetStock(ctx context.Context, productID int64) (*domain.StockLevel, error)
}
