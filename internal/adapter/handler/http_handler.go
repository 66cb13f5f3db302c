package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"

	idempotencyHeader = "Idempotency-Key"
)

type HTTPConfig struct {
	// SecureCookies sets the Secure attribute on session cookies.
	SecureCookies bool
	LoginRate     float64
	LoginBurst    int
}

type HTTPHandler struct {
	orders   *service.OrderService
	sessions *service.SessionService
	cfg      HTTPConfig
	logger   *slog.Logger
}

func NewHTTPHandler(orders *service.OrderService, sessions *service.SessionService, cfg HTTPConfig, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = 1
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 10
	}
	return &HTTPHandler{orders: orders, sessions: sessions, cfg: cfg, logger: logger}
}

// Routes builds the router. Each call gets its own login limiter.
func (h *HTTPHandler) Routes() http.Handler {
	limiter := newIPLimiter(h.cfg.LoginRate, h.cfg.LoginBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/signup", h.Signup)
		r.With(h.authenticate).Get("/me", h.Me)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
	})

	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := decodeBody(w, r, placeOrderLoader, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	claims, _ := ClaimsFrom(r.Context())
	if err := authorize(h.logger, claims, actionOrdersWrite, userResource(body.UserID), body.UserID, "place order"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		UserID:          body.UserID,
		Items:           body.lineItems(),
		SimulateFailure: body.SimulateFailure,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "order placed successfully", map[string]any{
		"order": newOrderResponse(order),
	})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, h.logger, domain.NewValidationError(domain.FieldError{Field: "id", Message: "must be a positive integer"}))
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	claims, _ := ClaimsFrom(r.Context())
	if err := authorize(h.logger, claims, actionOrdersRead, orderResource(id), order.UserID, "view order"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "order retrieved", map[string]any{
		"order": newOrderResponse(order),
	})
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	if err := authorize(h.logger, claims, actionOrdersRead, "orders", 0, "list orders"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.orders.ListOrders(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "orders retrieved", newOrderListResponse(result))
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decodeBody(w, r, loginLoader, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.setSessionCookies(w, session)
	writeSuccess(w, http.StatusOK, "login successful", map[string]any{
		"user":                    newUserResponse(&session.User),
		"accessExpiresInSeconds":  int(session.AccessTTL / time.Second),
		"refreshExpiresInSeconds": int(session.RefreshTTL / time.Second),
		"refreshTokenVersion":     session.User.RefreshTokenVersion,
	})
}

func (h *HTTPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	}

	session, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnauthenticated {
			h.clearSessionCookies(w)
		}
		writeError(w, r, h.logger, err)
		return
	}

	h.setSessionCookies(w, session)
	writeSuccess(w, http.StatusOK, "token refreshed", map[string]any{
		"user":                    newUserResponse(&session.User),
		"rotatedFromVersion":      session.PreviousVersion,
		"newRefreshTokenVersion":  session.User.RefreshTokenVersion,
		"accessExpiresInSeconds":  int(session.AccessTTL / time.Second),
		"refreshExpiresInSeconds": int(session.RefreshTTL / time.Second),
	})
}

func (h *HTTPHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	}

	h.clearSessionCookies(w)
	if err := h.sessions.Logout(r.Context(), token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "logged out", map[string]any{"loggedOut": true})
}

func (h *HTTPHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupBody
	if err := decodeBody(w, r, signupLoader, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.sessions.Signup(r.Context(), service.SignupRequest{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "signup successful", map[string]any{
		"user": newUserResponse(user),
	})
}

func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	user, err := h.sessions.Me(r.Context(), claims)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "current user", map[string]any{
		"user":         newUserResponse(user),
		"tokenVersion": claims.Version,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "healthy", map[string]string{"status": "ok"})
}

func (h *HTTPHandler) setSessionCookies(w http.ResponseWriter, s *service.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    s.AccessToken,
		Path:     "/",
		MaxAge:   int(s.AccessTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    s.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *HTTPHandler) clearSessionCookies(w http.ResponseWriter) {
	for name, sameSite := range map[string]http.SameSite{
		accessCookie:  http.SameSiteLaxMode,
		refreshCookie: http.SameSiteStrictMode,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cfg.SecureCookies,
			SameSite: sameSite,
		})
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError(domain.FieldError{Field: name, Message: "must be a positive integer"})
	}
	return n, nil
}
