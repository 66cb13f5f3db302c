package handler

import (
	"time"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
)

type placeOrderBody struct {
	UserID int64 `json:"userId"`
	Items  []struct {
		ArtifactID int64 `json:"artifactId"`
		Quantity   int   `json:"quantity"`
	} `json:"items"`
	SimulateFailure bool `json:"simulateFailure"`
}

func (b placeOrderBody) lineItems() []domain.LineItem {
	items := make([]domain.LineItem, len(b.Items))
	for i, it := range b.Items {
		items[i] = domain.LineItem{ArtifactID: it.ArtifactID, Quantity: it.Quantity}
	}
	return items
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupBody struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type artifactRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type orderItemResponse struct {
	ID       int64       `json:"id"`
	Quantity int         `json:"quantity"`
	Price    string      `json:"price"`
	Artifact artifactRef `json:"artifact"`
}

type orderResponse struct {
	ID          int64               `json:"id"`
	UserID      int64               `json:"userId"`
	Status      string              `json:"status"`
	TotalAmount string              `json:"totalAmount"`
	CreatedAt   time.Time           `json:"createdAt"`
	Items       []orderItemResponse `json:"items"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ID:       it.ID,
			Quantity: it.Quantity,
			Price:    it.Price.StringFixed(2),
			Artifact: artifactRef{ID: it.ArtifactID, Title: it.ArtifactTitle},
		}
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.StringFixed(2),
		CreatedAt:   o.CreatedAt,
		Items:       items,
	}
}

type pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	Pagination pagination      `json:"pagination"`
}

func newOrderListResponse(p *service.OrderPage) orderListResponse {
	orders := make([]orderResponse, len(p.Orders))
	for i := range p.Orders {
		orders[i] = newOrderResponse(&p.Orders[i])
	}
	return orderListResponse{
		Orders: orders,
		Pagination: pagination{
			Page:     p.Page,
			PageSize: p.PageSize,
			Total:    p.Total,
			Pages:    p.Pages,
		},
	}
}

type userResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}
