package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
	"github.com/rl1809/pos-backoffice/pkg/logger"
)

type SaleService struct {
	db        port.DatabaseRepository
	events    port.EventPublisher
	logger    *zap.Logger
	txTimeout time.Duration
}

func NewSaleService(db port.DatabaseRepository, events port.EventPublisher, logger *zap.Logger, txTimeout time.Duration) *SaleService {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &SaleService{
		db:        db,
		events:    events,
		logger:    logger,
		txTimeout: txTimeout,
	}
}

// ApplyDiscount sets the sale's discount percentage and recomputes discount
// and total from the current subtotal. The sale row is locked for the whole
// read-modify-write so a concurrent AddLineItem cannot be overwritten.
func (s *SaleService) ApplyDiscount(ctx context.Context, saleID int64, discountPct decimal.Decimal) (*domain.Sale, error) {
	if err := domain.ValidateID("sale_id", saleID); err != nil {
		return nil, err
	}
	if !domain.ValidDiscount(discountPct) {
		return nil, &domain.InvalidArgumentError{Field: "discount_percentage", Reason: "must be between 0 and 100"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	discountPct = discountPct.Round(domain.MoneyPlaces)
	log := logger.WithRequestID(ctx, s.logger)

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	var updated domain.Sale
	err := s.db.WithinTx(txCtx, func(ctx context.Context, tx port.Tx) error {
		sale, err := tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return &domain.NotFoundError{Entity: domain.EntitySale, ID: saleID}
		}

		updated = *sale
		updated.DiscountPercentage = discountPct
		updated.ApplyTotals(domain.ComputeTotals(sale.Subtotal, discountPct))
		return tx.Sales().UpdateTotals(ctx, updated)
	})
	if err != nil {
		err = domain.WrapTxError("apply discount", err)
		log.Warn("apply discount rejected",
			zap.Int64("sale_id", saleID),
			zap.String("discount_percentage", discountPct.String()),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("discount applied",
		zap.Int64("sale_id", saleID),
		zap.String("discount_percentage", discountPct.String()),
		zap.String("total_amount", updated.TotalAmount.String()),
	)

	publish(context.WithoutCancel(ctx), s.events, log, domain.DiscountApplied{
		SaleID:             saleID,
		DiscountPercentage: updated.DiscountPercentage,
		DiscountAmount:     updated.DiscountAmount,
		TotalAmount:        updated.TotalAmount,
		OccurredAt:         time.Now().UTC(),
	})

	return &updated, nil
}

func (s *SaleService) CreateSale(ctx context.Context, userID int64) (*domain.Sale, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return nil, err
	}

	sale, err := s.db.CreateSale(ctx, userID)
	if err != nil {
		return nil, err
	}

	logger.WithRequestID(ctx, s.logger).Info("sale created", zap.Int64("sale_id", sale.ID), zap.Int64("user_id", userID))
	return sale, nil
}

func (s *SaleService) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	if err := domain.ValidateID("sale_id", saleID); err != nil {
		return nil, err
	}

	sale, err := s.db.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntitySale, ID: saleID}
	}
	return sale, nil
}

// ListSales returns every sale, newest first.
func (s *SaleService) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.db.ListSales(ctx, domain.SaleFilter{})
}

func (s *SaleService) ListSalesByCustomer(ctx context.Context, userID int64) ([]domain.Sale, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return nil, err
	}
	return s.db.ListSales(ctx, domain.SaleFilter{UserID: userID})
}

// ListSalesBetween returns sales dated within [start, end], both DD/MM/YYYY
// and inclusive.
func (s *SaleService) ListSalesBetween(ctx context.Context, start, end string) ([]domain.Sale, error) {
	from, err := domain.ParseSaleDate("startDate", start)
	if err != nil {
		return nil, err
	}
	to, err := domain.ParseSaleDate("endDate", end)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, &domain.InvalidArgumentError{Field: "startDate", Reason: "must not be after endDate"}
	}

	return s.db.ListSales(ctx, domain.SaleFilter{From: from, To: to})
}

func (s *SaleService) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	return s.db.SalesSummary(ctx)
}

// DeleteSale removes the sale together with its items.
func (s *SaleService) DeleteSale(ctx context.Context, saleID int64) error {
	if err := domain.ValidateID("sale_id", saleID); err != nil {
		return err
	}

	deleted, err := s.db.DeleteSale(ctx, saleID)
	if err != nil {
		return err
	}
	if !deleted {
		return &domain.NotFoundError{Entity: domain.EntitySale, ID: saleID}
	}

	logger.WithRequestID(ctx, s.logger).Info("sale deleted", zap.Int64("sale_id", saleID))
	return nil
}
