package server

import (
	"context"
	"strconv"
	"time"

	"github.com/anchel/voucher-seckill/mysqldb"
	pb "github.com/anchel/voucher-seckill/proto"
	"github.com/anchel/voucher-seckill/service"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Seckiller interface {
	CreateSeckillVoucher(ctx context.Context, req *service.CreateVoucherRequest) (int64, error)
	SeckillVoucher(ctx context.Context, voucherID int64) (int64, error)
	CheckOrder(ctx context.Context, voucherID int64) (*mysqldb.EntityVoucherOrder, error)
}

type ShopQuerier interface {
	QueryShop(ctx context.Context, id int64) (*mysqldb.EntityShop, error)
}

type SeckillServer struct {
	pb.UnimplementedSeckillServiceServer

	seckill Seckiller
	shops   ShopQuerier
}

func NewSeckillServer(seckill Seckiller, shops ShopQuerier) *SeckillServer {
	return &SeckillServer{seckill: seckill, shops: shops}
}

// NewGRPCServer returns a grpc.Server with srv registered and the user
// interceptor installed.
func NewGRPCServer(srv *SeckillServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnaryInterceptor(UserInterceptor))
	s := grpc.NewServer(opts...)
	pb.RegisterSeckillServiceServer(s, srv)
	reflection.Register(s)
	return s
}

// UserInterceptor moves the x-user-id metadata entry into the request context.
func UserInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(pb.UserIDMetadataKey); len(vals) > 0 {
			userID, err := strconv.ParseInt(vals[0], 10, 64)
			if err != nil || userID <= 0 {
				return nil, status.Errorf(codes.InvalidArgument, "invalid %s %q", pb.UserIDMetadataKey, vals[0])
			}
			ctx = service.WithUser(ctx, userID)
		}
	}
	return handler(ctx, req)
}

func (s *SeckillServer) CreateVoucher(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log.Infof("Received: %v", in)
	f := in.GetFields()
	title := f["title"].GetStringValue()
	if title == "" {
		return nil, status.Error(codes.InvalidArgument, "title is empty")
	}
	beginTime := int64(f["begin_time"].GetNumberValue())
	if beginTime == 0 {
		return nil, status.Error(codes.InvalidArgument, "begin_time is empty")
	}
	endTime := int64(f["end_time"].GetNumberValue())
	if endTime == 0 {
		return nil, status.Error(codes.InvalidArgument, "end_time is empty")
	}
	stock := int64(f["stock"].GetNumberValue())
	if stock == 0 {
		return nil, status.Error(codes.InvalidArgument, "stock is empty")
	}

	id, err := s.seckill.CreateSeckillVoucher(ctx, &service.CreateVoucherRequest{
		ShopID:    int64(f["shop_id"].GetNumberValue()),
		Title:     title,
		Stock:     stock,
		BeginTime: time.UnixMilli(beginTime),
		EndTime:   time.UnixMilli(endTime),
	})
	if err != nil {
		log.Error("service.CreateSeckillVoucher", "err", err)
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"id": id})
}

func (s *SeckillServer) SeckillVoucher(ctx context.Context, in *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	if in.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "voucher id is empty")
	}
	orderID, err := s.seckill.SeckillVoucher(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(orderID), nil
}

func (s *SeckillServer) CheckOrder(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	order, err := s.seckill.CheckOrder(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	// order ids exceed float64 precision, so they travel as strings
	return structpb.NewStruct(map[string]any{
		"order_id":   strconv.FormatInt(order.ID, 10),
		"user_id":    order.UserID,
		"voucher_id": order.VoucherID,
		"created_at": order.CreatedAt.UnixMilli(),
	})
}

func (s *SeckillServer) QueryShop(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	shop, err := s.shops.QueryShop(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"id":        shop.ID,
		"name":      shop.Name,
		"type_id":   shop.TypeID,
		"address":   shop.Address,
		"avg_price": shop.AvgPrice,
		"score":     shop.Score,
	})
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, service.ErrNoUser):
		code = codes.Unauthenticated
	case errors.Is(err, service.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrNoStock):
		code = codes.ResourceExhausted
	case errors.Is(err, service.ErrDuplicateOrder):
		code = codes.AlreadyExists
	case errors.Is(err, service.ErrWindowClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, service.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrStoreUnavailable):
		code = codes.Unavailable
	default:
		log.Error("unmapped service error", "err", err)
	}
	return status.Error(code, err.Error())
}
