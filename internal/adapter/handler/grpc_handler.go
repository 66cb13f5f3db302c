package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/folk-trade/internal/adapter/handler/orderpb"
	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
)

type GRPCHandler struct {
	orders   *service.OrderService
	sessions *service.SessionService
	logger   *slog.Logger
}

func NewGRPCHandler(orders *service.OrderService, sessions *service.SessionService, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{orders: orders, sessions: sessions, logger: logger}
}

// NewServer returns a gRPC server with the JSON codec and the auth
// interceptor installed and the order service registered.
func (h *GRPCHandler) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(orderpb.Codec{}),
		grpc.UnaryInterceptor(h.authInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	orderpb.RegisterOrderServiceServer(srv, h)
	return srv
}

func (h *GRPCHandler) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			parts := strings.Fields(values[0])
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = parts[1]
			}
		}
	}

	claims, err := h.sessions.VerifyAccess(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return next(withClaims(ctx, claims), req)
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *orderpb.PlaceOrderRequest) (*orderpb.PlaceOrderResponse, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With("request_id", requestID)

	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "access token missing")
	}
	if err := authorize(logger, claims, actionOrdersWrite, userResource(req.UserID), req.UserID, "place order via grpc"); err != nil {
		return h.failure(logger, err), nil
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	var nullItems []domain.FieldError
	for i, it := range req.Items {
		if it == nil {
			nullItems = append(nullItems, domain.FieldError{Field: fmt.Sprintf("items.%d", i), Message: "must be an object"})
			continue
		}
		items = append(items, domain.LineItem{ArtifactID: it.ArtifactID, Quantity: int(it.Quantity)})
	}
	if len(nullItems) > 0 {
		return h.failure(logger, domain.NewValidationError(nullItems...)), nil
	}

	order, err := h.orders.PlaceOrder(ctx, service.PlaceOrderRequest{
		UserID:          req.UserID,
		Items:           items,
		SimulateFailure: req.SimulateFailure,
		IdempotencyKey:  req.RequestID,
	})
	if err != nil {
		return h.failure(logger, err), nil
	}

	return &orderpb.PlaceOrderResponse{
		Success: true,
		Message: "order placed successfully",
		Order:   toProtoOrder(order),
	}, nil
}

// failure reports domain errors in the response body. Persistence failures
// are logged and redacted.
func (h *GRPCHandler) failure(logger *slog.Logger, err error) *orderpb.PlaceOrderResponse {
	kind := domain.KindOf(err)
	resp := &orderpb.PlaceOrderResponse{
		Success: false,
		Message: "internal server error",
		Error:   &orderpb.Error{Code: string(kind)},
	}
	if kind == domain.KindPersistence {
		logger.Error("grpc place order failed", "error", err)
		return resp
	}

	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.Message = derr.Message
		if derr.Details != nil {
			if raw, mErr := json.Marshal(derr.Details); mErr == nil {
				resp.Error.Details = raw
			}
		}
	}
	return resp
}

func toProtoOrder(o *domain.Order) *orderpb.Order {
	items := make([]*orderpb.OrderItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = &orderpb.OrderItem{
			ID:       it.ID,
			Quantity: int32(it.Quantity),
			Price:    it.Price.StringFixed(2),
			Artifact: &orderpb.Artifact{ID: it.ArtifactID, Title: it.ArtifactTitle},
		}
	}
	return &orderpb.Order{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.StringFixed(2),
		CreatedAt:   o.CreatedAt,
		Items:       items,
	}
}
