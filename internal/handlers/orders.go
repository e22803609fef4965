package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/karigari/api/internal/platform/auth"
	"github.com/karigari/api/internal/platform/httpx"
	"github.com/karigari/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes order placement, payment verification, and lifecycle
// endpoints. Shopper routes require any authenticated user; listing the whole
// store and forcing status transitions require a staff role.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/create", h.placeOrder)
		r.Post("/verify-payment", h.verifyPayment)
		r.Get("/my-orders", h.listMyOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Put("/{orderID}/cancel", h.cancelOrder)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleSuperAdmin))
		}
		r.Get("/", h.listAllOrders)
		r.Put("/{orderID}/status", h.updateStatus)
	})
}

type placeOrderRequest struct {
	Items           []placeOrderItemRequest `json:"items"`
	ShippingAddress addressPayload          `json:"shipping_address"`
}

type placeOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type verifyPaymentRequest struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	items := make([]services.PlaceOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.PlaceOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	placed, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placedOrderResponse{
		Order: buildOrderPayload(placed.Order),
		Checkout: checkoutPayload{
			GatewayOrderID: placed.Checkout.ID,
			KeyID:          placed.Checkout.KeyID,
			Amount:         placed.Checkout.Amount,
			Currency:       placed.Checkout.Currency,
		},
	})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListUserOrders(ctx, userID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID, UserID: userID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		UserID:           userID,
		OrderID:          orderID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		GatewaySignature: strings.TrimSpace(req.GatewaySignature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err == nil:
		if jsonErr := json.Unmarshal(body, &req); jsonErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		UserID:  userID,
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		AsAdmin: callerIsStaff(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	listing, err := h.orders.ListAllOrders(ctx, services.AdminOrderListFilter{
		Status:     services.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(listing.Orders.Items))
	for _, order := range listing.Orders.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, adminOrderListResponse{
		Items:         items,
		NextPageToken: listing.Orders.NextPageToken,
		Stats: orderStatsPayload{
			TotalOrders:  listing.Stats.TotalOrders,
			TotalRevenue: listing.Stats.TotalRevenue,
		},
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  services.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID: actorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UserID), true
}

func callerIsStaff(ctx context.Context) bool {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return false
	}
	return identity.HasAnyRole(auth.RoleAdmin, auth.RoleSuperAdmin)
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type adminOrderListResponse struct {
	Items         []orderPayload    `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
	Stats         orderStatsPayload `json:"stats"`
}

type orderStatsPayload struct {
	TotalOrders  int64   `json:"total_orders"`
	TotalRevenue float64 `json:"total_revenue"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type placedOrderResponse struct {
	Order    orderPayload    `json:"order"`
	Checkout checkoutPayload `json:"checkout"`
}

type checkoutPayload struct {
	GatewayOrderID string `json:"gateway_order_id"`
	KeyID          string `json:"key_id,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Items              []orderItemPayload `json:"items"`
	ShippingAddress    addressPayload     `json:"shipping_address"`
	Payment            paymentPayload     `json:"payment"`
	Pricing            pricingPayload     `json:"pricing"`
	Status             string             `json:"status"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

type paymentPayload struct {
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Status           string `json:"status"`
}

type pricingPayload struct {
	ItemsPrice    float64 `json:"items_price"`
	TaxPrice      float64 `json:"tax_price"`
	ShippingPrice float64 `json:"shipping_price"`
	TotalPrice    float64 `json:"total_price"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}

	return orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		Items:           items,
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		Payment: paymentPayload{
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Status:           string(order.Payment.Status),
		},
		Pricing: pricingPayload{
			ItemsPrice:    order.Pricing.ItemsPrice,
			TaxPrice:      order.Pricing.TaxPrice,
			ShippingPrice: order.Pricing.ShippingPrice,
			TotalPrice:    order.Pricing.TotalPrice,
		},
		Status:             string(order.Status),
		DeliveredAt:        formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:        formatTime(pointerTime(order.CancelledAt)),
		CancellationReason: order.CancellationReason,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have access to this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderGatewayUnavailable):
		// Gateway detail stays in server logs; the caller sees a generic failure.
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderPaymentVerification):
		// The client may retry verification with a fresh signature.
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "payment already verified for this order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
