// Package proto holds the SeckillService contract described in seckill.proto.
// Requests and replies are protobuf well-known types, so only the service
// plumbing lives here.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "seckill.SeckillService"

	// UserIDMetadataKey carries the calling user's id.
	UserIDMetadataKey = "x-user-id"

	SeckillService_CreateVoucher_FullMethodName  = "/seckill.SeckillService/CreateVoucher"
	SeckillService_SeckillVoucher_FullMethodName = "/seckill.SeckillService/SeckillVoucher"
	SeckillService_CheckOrder_FullMethodName     = "/seckill.SeckillService/CheckOrder"
	SeckillService_QueryShop_FullMethodName      = "/seckill.SeckillService/QueryShop"
)

type SeckillServiceClient interface {
	CreateVoucher(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SeckillVoucher(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	CheckOrder(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
	QueryShop(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type seckillServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSeckillServiceClient(cc grpc.ClientConnInterface) SeckillServiceClient {
	return &seckillServiceClient{cc}
}

func (c *seckillServiceClient) CreateVoucher(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SeckillService_CreateVoucher_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *seckillServiceClient) SeckillVoucher(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, SeckillService_SeckillVoucher_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *seckillServiceClient) CheckOrder(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SeckillService_CheckOrder_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *seckillServiceClient) QueryShop(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SeckillService_QueryShop_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type SeckillServiceServer interface {
	CreateVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SeckillVoucher(context.Context, *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error)
	CheckOrder(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	QueryShop(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
}

// UnimplementedSeckillServiceServer can be embedded to satisfy
// SeckillServiceServer while only some methods are written.
type UnimplementedSeckillServiceServer struct{}

func (UnimplementedSeckillServiceServer) CreateVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateVoucher not implemented")
}

func (UnimplementedSeckillServiceServer) SeckillVoucher(context.Context, *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SeckillVoucher not implemented")
}

func (UnimplementedSeckillServiceServer) CheckOrder(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CheckOrder not implemented")
}

func (UnimplementedSeckillServiceServer) QueryShop(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method QueryShop not implemented")
}

func RegisterSeckillServiceServer(s grpc.ServiceRegistrar, srv SeckillServiceServer) {
	s.RegisterService(&SeckillService_ServiceDesc, srv)
}

// unaryHandler adapts one typed server method to grpc's handler shape.
func unaryHandler[Req any, PReq interface {
	*Req
}, Resp any](fullMethod string, call func(SeckillServiceServer, context.Context, PReq) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SeckillServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SeckillServiceServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var SeckillService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SeckillServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateVoucher",
			Handler: unaryHandler[structpb.Struct](SeckillService_CreateVoucher_FullMethodName,
				SeckillServiceServer.CreateVoucher),
		},
		{
			MethodName: "SeckillVoucher",
			Handler: unaryHandler[wrapperspb.Int64Value](SeckillService_SeckillVoucher_FullMethodName,
				SeckillServiceServer.SeckillVoucher),
		},
		{
			MethodName: "CheckOrder",
			Handler: unaryHandler[wrapperspb.Int64Value](SeckillService_CheckOrder_FullMethodName,
				SeckillServiceServer.CheckOrder),
		},
		{
			MethodName: "QueryShop",
			Handler: unaryHandler[wrapperspb.Int64Value](SeckillService_QueryShop_FullMethodName,
				SeckillServiceServer.QueryShop),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seckill.proto",
}
