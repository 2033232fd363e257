package grpcsvc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// LedgerServiceName: полное имя gRPC-сервиса.
const LedgerServiceName = "orderledger.v1.LedgerService"

// Методы LedgerService. Запросы и ответы передаются как google.protobuf.Struct.
const (
	MethodUpdateOrder       = "UpdateOrder"
	MethodShortShip         = "ShortShip"
	MethodShipUnits         = "ShipUnits"
	MethodResendCartonEmail = "ResendCartonEmail"
	MethodCaptureCarton     = "CaptureCarton"
	MethodCaptureOrder      = "CaptureOrder"
	MethodActivatePromotion = "ActivatePromotion"
	MethodCancelShipment    = "CancelShipment"
	MethodResumeShipment    = "ResumeShipment"
	MethodFillBackorders    = "FillBackorders"
	MethodReturnUnits       = "ReturnUnits"
	MethodApplyFreeShipping = "ApplyFreeShipping"
	MethodGetOrder          = "GetOrder"
)

// LedgerServer: серверная сторона LedgerService.
type LedgerServer interface {
	UpdateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ShortShip(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ShipUnits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResendCartonEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CaptureCarton(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CaptureOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ActivatePromotion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResumeShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	FillBackorders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReturnUnits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ApplyFreeShipping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", LedgerServiceName, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(structpb.Struct)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// LedgerServiceDesc регистрируется вручную: у сервиса нет .proto-схемы,
// все сообщения имеют тип Struct.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodUpdateOrder, LedgerServer.UpdateOrder),
		unaryHandler(MethodShortShip, LedgerServer.ShortShip),
		unaryHandler(MethodShipUnits, LedgerServer.ShipUnits),
		unaryHandler(MethodResendCartonEmail, LedgerServer.ResendCartonEmail),
		unaryHandler(MethodCaptureCarton, LedgerServer.CaptureCarton),
		unaryHandler(MethodCaptureOrder, LedgerServer.CaptureOrder),
		unaryHandler(MethodActivatePromotion, LedgerServer.ActivatePromotion),
		unaryHandler(MethodCancelShipment, LedgerServer.CancelShipment),
		unaryHandler(MethodResumeShipment, LedgerServer.ResumeShipment),
		unaryHandler(MethodFillBackorders, LedgerServer.FillBackorders),
		unaryHandler(MethodReturnUnits, LedgerServer.ReturnUnits),
		unaryHandler(MethodApplyFreeShipping, LedgerServer.ApplyFreeShipping),
		unaryHandler(MethodGetOrder, LedgerServer.GetOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderledger/v1/ledger",
}

// RegisterLedgerServer регистрирует реализацию на gRPC-сервере.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerClient вызывает методы LedgerService по имени.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerClient создаёт клиента поверх соединения.
func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

// Call отправляет запрос и возвращает ответ в виде map.
func (c *LedgerClient) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", LedgerServiceName, method), in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
