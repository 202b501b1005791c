package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
	"github.com/rl1809/pos-backoffice/pkg/logger"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const defaultTxTimeout = 10 * time.Second

type SaleItemService struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	events    port.EventPublisher
	logger    *zap.Logger
	txTimeout time.Duration
}

// NewSaleItemService wires the coordinator. cache may be nil, in which case
// idempotency keys are ignored and no stock mirror is kept.
func NewSaleItemService(db port.DatabaseRepository, cache port.CacheRepository, events port.EventPublisher, logger *zap.Logger, txTimeout time.Duration) *SaleItemService {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &SaleItemService{
		db:        db,
		cache:     cache,
		events:    events,
		logger:    logger,
		txTimeout: txTimeout,
	}
}

// AddLineItem appends a line to a sale in one transaction: it locks the sale
// and then the product's inventory row, checks stock, inserts the item,
// decrements stock and re-aggregates the sale's totals from all of its items.
//
// Once started, the transaction runs to commit or rollback even if ctx is
// cancelled; it is bounded by the service's transaction timeout instead.
// Failures are never retried here.
func (s *SaleItemService) AddLineItem(ctx context.Context, saleID, productID int64, quantity int, priceAtSale decimal.Decimal) (*domain.SaleItem, error) {
	if err := validateLineItem(saleID, productID, quantity, priceAtSale); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priceAtSale = priceAtSale.Round(domain.MoneyPlaces)
	log := s.log(ctx)

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	var (
		created *domain.SaleItem
		updated domain.Sale
		level   domain.StockLevel
	)
	err := s.db.WithinTx(txCtx, func(ctx context.Context, tx port.Tx) error {
		sale, err := tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return &domain.NotFoundError{Entity: domain.EntitySale, ID: saleID}
		}
		discountPct := sale.DiscountPercentage

		inv, err := tx.Inventory().LockByProductID(ctx, productID)
		if err != nil {
			return err
		}
		if inv == nil {
			return &domain.NotFoundError{Entity: domain.EntityInventory, ID: productID}
		}
		if !inv.CanFulfil(quantity) {
			return &domain.InsufficientStockError{
				ProductID: productID,
				Available: inv.QuantityInStock,
				Requested: quantity,
			}
		}

		created, err = tx.SaleItems().Insert(ctx, domain.SaleItem{
			SaleID:      saleID,
			ProductID:   productID,
			Quantity:    quantity,
			PriceAtSale: priceAtSale,
		})
		if err != nil {
			return err
		}

		if err := tx.Inventory().Decrement(ctx, productID, quantity); err != nil {
			return err
		}

		subtotal, err := tx.SaleItems().SumBySale(ctx, saleID)
		if err != nil {
			return err
		}

		updated = *sale
		updated.ApplyTotals(domain.ComputeTotals(subtotal, discountPct))
		if err := tx.Sales().UpdateTotals(ctx, updated); err != nil {
			return err
		}

		level = inv.StockLevel()
		level.Quantity -= quantity
		level.Version++
		return nil
	})
	if err != nil {
		err = domain.WrapTxError("add line item", err)
		logFailure(log, "add line item rejected", err,
			zap.Int64("sale_id", saleID),
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
		)
		return nil, err
	}

	log.Info("line item added",
		zap.Int64("sale_id", saleID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int64("sale_item_id", created.ID),
	)

	afterCtx := context.WithoutCancel(ctx)
	s.mirrorStock(afterCtx, log, level)
	publish(afterCtx, s.events, log, domain.SaleItemAdded{
		SaleID:      saleID,
		SaleItemID:  created.ID,
		ProductID:   productID,
		Quantity:    quantity,
		PriceAtSale: priceAtSale,
		Subtotal:    updated.Subtotal,
		TotalAmount: updated.TotalAmount,
		StockLeft:   level.Quantity,
		OccurredAt:  time.Now().UTC(),
	})

	return created, nil
}

// SubmitLineItem is AddLineItem guarded by a client supplied idempotency key.
// A key that was already claimed fails with ErrDuplicateRequest; a failed
// attempt releases its claim so the client may submit again.
func (s *SaleItemService) SubmitLineItem(ctx context.Context, idempotencyKey string, saleID, productID int64, quantity int, priceAtSale decimal.Decimal) (*domain.SaleItem, error) {
	if idempotencyKey == "" || s.cache == nil {
		return s.AddLineItem(ctx, saleID, productID, quantity, priceAtSale)
	}
	if err := validateLineItem(saleID, productID, quantity, priceAtSale); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d:%s", saleID, idempotencyKey)
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}

	item, err := s.AddLineItem(ctx, saleID, productID, quantity, priceAtSale)
	if err != nil {
		if releaseErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.log(ctx).Error("failed to release idempotency key",
				zap.String("key", key),
				zap.Error(releaseErr),
			)
		}
		return nil, err
	}
	return item, nil
}

func (s *SaleItemService) GetSaleItem(ctx context.Context, saleItemID int64) (*domain.SaleItem, error) {
	if err := domain.ValidateID("sale_item_id", saleItemID); err != nil {
		return nil, err
	}

	item, err := s.db.GetSaleItem(ctx, saleItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntitySaleItem, ID: saleItemID}
	}
	return item, nil
}

// GetSaleItemDetails returns the item joined with its sale, cashier and product.
func (s *SaleItemService) GetSaleItemDetails(ctx context.Context, saleItemID int64) (*domain.SaleItemDetails, error) {
	if err := domain.ValidateID("sale_item_id", saleItemID); err != nil {
		return nil, err
	}

	d, err := s.db.GetSaleItemDetails(ctx, saleItemID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntitySaleItem, ID: saleItemID}
	}
	return d, nil
}

func (s *SaleItemService) ListSaleItems(ctx context.Context) ([]domain.SaleItem, error) {
	return s.db.ListSaleItems(ctx, 0)
}

// ListSaleItemsBySale returns the sale's items, possibly none.
func (s *SaleItemService) ListSaleItemsBySale(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	if err := domain.ValidateID("sale_id", saleID); err != nil {
		return nil, err
	}
	return s.db.ListSaleItems(ctx, saleID)
}

// UpdateSaleItem is an administrative correction. It neither restocks nor
// recomputes the owning sale's totals.
func (s *SaleItemService) UpdateSaleItem(ctx context.Context, saleItemID int64, patch domain.SaleItemPatch) (*domain.SaleItem, error) {
	if err := domain.ValidateID("sale_item_id", saleItemID); err != nil {
		return nil, err
	}
	if patch.Quantity == nil && patch.PriceAtSale == nil {
		return nil, &domain.InvalidArgumentError{Field: "quantity", Reason: "or price_at_sale is required"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	item, err := s.db.UpdateSaleItem(ctx, saleItemID, patch)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntitySaleItem, ID: saleItemID}
	}

	s.log(ctx).Warn("sale item corrected without re-aggregation",
		zap.Int64("sale_item_id", saleItemID),
		zap.Int64("sale_id", item.SaleID),
	)
	return item, nil
}

func (s *SaleItemService) DeleteSaleItem(ctx context.Context, saleItemID int64) error {
	if err := domain.ValidateID("sale_item_id", saleItemID); err != nil {
		return err
	}

	deleted, err := s.db.DeleteSaleItem(ctx, saleItemID)
	if err != nil {
		return err
	}
	if !deleted {
		return &domain.NotFoundError{Entity: domain.EntitySaleItem, ID: saleItemID}
	}
	return nil
}

// mirrorStock runs after commit, outside the row lock, so concurrent calls
// may reach the cache in any order. The cache keeps the newest level.
func (s *SaleItemService) mirrorStock(ctx context.Context, log *zap.Logger, level domain.StockLevel) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStock(ctx, level); err != nil {
		log.Warn("failed to mirror stock",
			zap.Int64("product_id", level.ProductID),
			zap.Int64("version", level.Version),
			zap.Error(err),
		)
	}
}

func (s *SaleItemService) log(ctx context.Context) *zap.Logger {
	return logger.WithRequestID(ctx, s.logger)
}

func logFailure(log *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, domain.ErrTransactionFailed) {
		log.Error(msg, append(fields, zap.Bool("retryable", domain.IsRetryable(err)))...)
		return
	}
	log.Warn(msg, fields...)
}

func validateLineItem(saleID, productID int64, quantity int, priceAtSale decimal.Decimal) error {
	if err := domain.ValidateID("sale_id", saleID); err != nil {
		return err
	}
	if err := domain.ValidateID("product_id", productID); err != nil {
		return err
	}
	if quantity <= 0 {
		return &domain.InvalidArgumentError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if priceAtSale.IsNegative() {
		return &domain.InvalidArgumentError{Field: "price_at_sale", Reason: "must not be negative"}
	}
	if !domain.IsMoney(priceAtSale) {
		return &domain.InvalidArgumentError{Field: "price_at_sale", Reason: "must have at most 2 decimal places"}
	}
	return nil
}

// publish hands a committed event to the publisher. The unit of work has
// already committed, so a failure is only logged.
func publish(ctx context.Context, events port.EventPublisher, log *zap.Logger, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		log.Error("failed to publish event",
			zap.String("event_type", event.EventType()),
			zap.String("key", event.PartitionKey()),
			zap.Error(err),
		)
	}
}
