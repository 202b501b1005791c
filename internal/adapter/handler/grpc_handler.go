package handler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pos-backoffice/internal/adapter/handler/rpc"
	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/core/service"
	"github.com/rl1809/pos-backoffice/pkg/logger"
)

type GRPCHandler struct {
	saleItemService *service.SaleItemService
	saleService     *service.SaleService
}

var _ rpc.SaleServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(saleItemService *service.SaleItemService, saleService *service.SaleService) *GRPCHandler {
	return &GRPCHandler{saleItemService: saleItemService, saleService: saleService}
}

func (h *GRPCHandler) AddLineItem(ctx context.Context, req *rpc.AddLineItemRequest) (*rpc.SaleItem, error) {
	price, err := decimal.NewFromString(req.PriceAtSale)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid argument: price_at_sale must be a number")
	}

	item, err := h.saleItemService.AddLineItem(ctx, req.SaleID, req.ProductID, req.Quantity, price)
	if err != nil {
		return nil, grpcError(err)
	}

	return &rpc.SaleItem{
		SaleItemID:  item.ID,
		SaleID:      item.SaleID,
		ProductID:   item.ProductID,
		Quantity:    item.Quantity,
		PriceAtSale: item.PriceAtSale.StringFixed(domain.MoneyPlaces),
	}, nil
}

func (h *GRPCHandler) ApplyDiscount(ctx context.Context, req *rpc.ApplyDiscountRequest) (*rpc.Sale, error) {
	pct, err := decimal.NewFromString(req.DiscountPercentage)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid argument: discount_percentage must be a number")
	}

	sale, err := h.saleService.ApplyDiscount(ctx, req.SaleID, pct)
	if err != nil {
		return nil, grpcError(err)
	}
	return toRPCSale(sale), nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *rpc.GetSaleRequest) (*rpc.Sale, error) {
	sale, err := h.saleService.GetSale(ctx, req.SaleID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toRPCSale(sale), nil
}

func toRPCSale(sale *domain.Sale) *rpc.Sale {
	return &rpc.Sale{
		SaleID:             sale.ID,
		UserID:             sale.UserID,
		SaleDate:           sale.SaleDate.UTC().Format(time.RFC3339),
		Subtotal:           sale.Subtotal.StringFixed(domain.MoneyPlaces),
		DiscountPercentage: sale.DiscountPercentage.StringFixed(domain.MoneyPlaces),
		DiscountAmount:     sale.DiscountAmount.StringFixed(domain.MoneyPlaces),
		TotalAmount:        sale.TotalAmount.StringFixed(domain.MoneyPlaces),
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RequestIDMetadataKey carries the caller's request id on gRPC calls.
const RequestIDMetadataKey = "x-request-id"

// UnaryLoggingInterceptor logs every unary call with its status code. The
// caller's x-request-id, or a fresh one, rides on the context into the
// service logs.
func UnaryLoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		requestID := incomingRequestID(ctx)
		resp, err := handler(logger.ContextWithRequestID(ctx, requestID), req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", requestID),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch status.Code(err) {
		case codes.OK:
			log.Info("grpc request", fields...)
		case codes.Internal, codes.Unavailable:
			log.Error("grpc request", append(fields, zap.Error(err))...)
		default:
			log.Warn("grpc request", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDMetadataKey); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}
