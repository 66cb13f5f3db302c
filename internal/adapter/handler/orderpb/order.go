// Package orderpb describes the folktrade.OrderService gRPC service. Messages
// travel as JSON through Codec, so no generated protobuf code is needed.
package orderpb

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
)

const (
	ServiceName          = "folktrade.OrderService"
	PlaceOrderFullMethod = "/" + ServiceName + "/PlaceOrder"
)

type LineItem struct {
	ArtifactID int64 `json:"artifactId"`
	Quantity   int32 `json:"quantity"`
}

type PlaceOrderRequest struct {
	// RequestID doubles as the idempotency key when set.
	RequestID       string      `json:"requestId,omitempty"`
	UserID          int64       `json:"userId"`
	Items           []*LineItem `json:"items"`
	SimulateFailure bool        `json:"simulateFailure,omitempty"`
}

type Artifact struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type OrderItem struct {
	ID       int64     `json:"id"`
	Quantity int32     `json:"quantity"`
	Price    string    `json:"price"`
	Artifact *Artifact `json:"artifact"`
}

type Order struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"userId"`
	Status      string       `json:"status"`
	TotalAmount string       `json:"totalAmount"`
	CreatedAt   time.Time    `json:"createdAt"`
	Items       []*OrderItem `json:"items"`
}

type Error struct {
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

type PlaceOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Codec is the JSON wire codec for this service.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

type OrderServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderService_ServiceDesc, srv)
}

func _OrderService_PlaceOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PlaceOrderFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var OrderService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PlaceOrder",
			Handler:    _OrderService_PlaceOrder_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "folktrade/order.json",
}

type OrderServiceClient interface {
	PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error)
}

type orderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient returns a client that always uses Codec.
func NewOrderServiceClient(cc grpc.ClientConnInterface) OrderServiceClient {
	return &orderServiceClient{cc: cc}
}

func (c *orderServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := c.cc.Invoke(ctx, PlaceOrderFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
