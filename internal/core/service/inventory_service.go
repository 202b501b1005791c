package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
	"github.com/rl1809/pos-backoffice/pkg/logger"
)

const defaultLowStockThreshold = 5

// InventoryService covers admin adjustments made outside the coordinator.
type InventoryService struct {
	db                port.InventoryRepository
	cache             port.CacheRepository
	logger            *zap.Logger
	lowStockThreshold int
}

func NewInventoryService(db port.InventoryRepository, cache port.CacheRepository, logger *zap.Logger, lowStockThreshold int) *InventoryService {
	if lowStockThreshold < 0 {
		lowStockThreshold = defaultLowStockThreshold
	}
	return &InventoryService{
		db:                db,
		cache:             cache,
		logger:            logger,
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *InventoryService) LowStockThreshold() int {
	return s.lowStockThreshold
}

func (s *InventoryService) CreateInventory(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	if err := domain.ValidateID("product_id", productID); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	inv, err := s.db.CreateInventory(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}

	log := logger.WithRequestID(ctx, s.logger)
	log.Info("inventory created",
		zap.Int64("product_id", productID),
		zap.Int("quantity_in_stock", quantity),
	)
	s.mirror(ctx, log, inv)
	return inv, nil
}

func (s *InventoryService) GetInventory(ctx context.Context, productID int64) (*domain.Inventory, error) {
	if err := domain.ValidateID("product_id", productID); err != nil {
		return nil, err
	}

	inv, err := s.db.GetInventory(ctx, productID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityInventory, ID: productID}
	}
	return inv, nil
}

// GetStockLevel answers from the stock mirror when it holds the product and
// falls back to the database otherwise, refreshing the mirror on the way.
// cached reports which source answered. A mirrored level may trail the
// latest commit by the time it takes to write it.
func (s *InventoryService) GetStockLevel(ctx context.Context, productID int64) (level *domain.StockLevel, cached bool, err error) {
	if err := domain.ValidateID("product_id", productID); err != nil {
		return nil, false, err
	}

	log := logger.WithRequestID(ctx, s.logger)
	if s.cache != nil {
		level, err := s.cache.GetStock(ctx, productID)
		if err == nil && level != nil {
			return level, true, nil
		}
		if err != nil {
			log.Warn("stock mirror unavailable", zap.Int64("product_id", productID), zap.Error(err))
		}
	}

	inv, err := s.GetInventory(ctx, productID)
	if err != nil {
		return nil, false, err
	}
	s.mirror(ctx, log, inv)
	current := inv.StockLevel()
	return &current, false, nil
}

func (s *InventoryService) ListInventory(ctx context.Context) ([]domain.Inventory, error) {
	return s.db.ListInventory(ctx)
}

// ListInventoryDetails returns every row with its product's name, price,
// type and status.
func (s *InventoryService) ListInventoryDetails(ctx context.Context) ([]domain.InventoryDetails, error) {
	return s.db.ListInventoryDetails(ctx)
}

// ListLowStock returns rows holding fewer than threshold units, lowest first,
// joined with their products.
func (s *InventoryService) ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryDetails, error) {
	if threshold < 0 {
		return nil, &domain.InvalidArgumentError{Field: "threshold", Reason: "must not be negative"}
	}
	return s.db.ListLowStock(ctx, threshold)
}

func (s *InventoryService) SetInventoryQuantity(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	if err := domain.ValidateID("product_id", productID); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	inv, err := s.db.SetInventoryQuantity(ctx, productID, quantity)
	if err != nil {
		return nil, domain.WrapTxError("set inventory quantity", err)
	}
	if inv == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityInventory, ID: productID}
	}

	log := logger.WithRequestID(ctx, s.logger)
	log.Info("inventory adjusted",
		zap.Int64("product_id", productID),
		zap.Int("quantity_in_stock", quantity),
	)
	s.mirror(ctx, log, inv)
	return inv, nil
}

func (s *InventoryService) DeleteInventory(ctx context.Context, productID int64) error {
	if err := domain.ValidateID("product_id", productID); err != nil {
		return err
	}

	deleted, err := s.db.DeleteInventory(ctx, productID)
	if err != nil {
		return domain.WrapTxError("delete inventory", err)
	}
	if deleted == nil {
		return &domain.NotFoundError{Entity: domain.EntityInventory, ID: productID}
	}

	log := logger.WithRequestID(ctx, s.logger)
	log.Info("inventory deleted", zap.Int64("product_id", productID))
	if s.cache != nil {
		if err := s.cache.DeleteStock(ctx, deleted.StockLevel()); err != nil {
			log.Warn("failed to drop stock mirror", zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return nil
}

func (s *InventoryService) mirror(ctx context.Context, log *zap.Logger, inv *domain.Inventory) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStock(ctx, inv.StockLevel()); err != nil {
		log.Warn("failed to mirror stock",
			zap.Int64("product_id", inv.ProductID),
			zap.Error(err),
		)
	}
}

func validateQuantity(quantity int) error {
	if quantity < 0 {
		return &domain.InvalidArgumentError{Field: "quantity_in_stock", Reason: "must not be negative"}
	}
	return nil
}
