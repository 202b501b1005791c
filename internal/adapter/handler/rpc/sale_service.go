package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SaleServiceName = "pos.v1.SaleService"

	addLineItemMethod   = "/pos.v1.SaleService/AddLineItem"
	applyDiscountMethod = "/pos.v1.SaleService/ApplyDiscount"
	getSaleMethod       = "/pos.v1.SaleService/GetSale"
)

// Monetary values travel as decimal strings.

type AddLineItemRequest struct {
	SaleID      int64  `json:"sale_id"`
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
	PriceAtSale string `json:"price_at_sale"`
}

type ApplyDiscountRequest struct {
	SaleID             int64  `json:"sale_id"`
	DiscountPercentage string `json:"discount_percentage"`
}

type GetSaleRequest struct {
	SaleID int64 `json:"sale_id"`
}

type SaleItem struct {
	SaleItemID  int64  `json:"sale_item_id"`
	SaleID      int64  `json:"sale_id"`
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
	PriceAtSale string `json:"price_at_sale"`
}

type Sale struct {
	SaleID             int64  `json:"sale_id"`
	UserID             int64  `json:"user_id"`
	SaleDate           string `json:"sale_date"`
	Subtotal           string `json:"subtotal"`
	DiscountPercentage string `json:"discount_percentage"`
	DiscountAmount     string `json:"discount_amount"`
	TotalAmount        string `json:"total_amount"`
}

type SaleServiceServer interface {
	AddLineItem(context.Context, *AddLineItemRequest) (*SaleItem, error)
	ApplyDiscount(context.Context, *ApplyDiscountRequest) (*Sale, error)
	GetSale(context.Context, *GetSaleRequest) (*Sale, error)
}

func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&SaleServiceDesc, srv)
}

var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: SaleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddLineItem", Handler: addLineItemHandler},
		{MethodName: "ApplyDiscount", Handler: applyDiscountHandler},
		{MethodName: "GetSale", Handler: getSaleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pos/v1/sale_service",
}

func addLineItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddLineItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).AddLineItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: addLineItemMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).AddLineItem(ctx, req.(*AddLineItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func applyDiscountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApplyDiscountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).ApplyDiscount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: applyDiscountMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).ApplyDiscount(ctx, req.(*ApplyDiscountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).GetSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSaleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).GetSale(ctx, req.(*GetSaleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SaleServiceClient calls SaleService over the JSON codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) AddLineItem(ctx context.Context, in *AddLineItemRequest, opts ...grpc.CallOption) (*SaleItem, error) {
	out := new(SaleItem)
	if err := c.cc.Invoke(ctx, addLineItemMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) ApplyDiscount(ctx context.Context, in *ApplyDiscountRequest, opts ...grpc.CallOption) (*Sale, error) {
	out := new(Sale)
	if err := c.cc.Invoke(ctx, applyDiscountMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) GetSale(ctx context.Context, in *GetSaleRequest, opts ...grpc.CallOption) (*Sale, error) {
	out := new(Sale)
	if err := c.cc.Invoke(ctx, getSaleMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
