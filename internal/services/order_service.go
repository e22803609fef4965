package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/mail"
	"github.com/karigari/api/internal/payments"
	"github.com/karigari/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventConfirmed     = "order.confirmed"
	orderEventCancelled     = "order.cancelled"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	defaultCancelReason = "Cancelled by user"
	defaultCurrency     = "INR"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderProductNotFound indicates a requested product does not exist.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderProductUnavailable indicates a requested product is not for sale.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderInsufficientStock indicates a requested quantity exceeds stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderGatewayUnavailable indicates no payment gateway is configured.
	ErrOrderGatewayUnavailable = errors.New("order: payment gateway unavailable")
	// ErrOrderAlreadyPaid indicates the payment was already verified for this order.
	ErrOrderAlreadyPaid = errors.New("order: payment already verified")
	// ErrOrderPaymentVerification indicates the submitted signature did not match.
	ErrOrderPaymentVerification = errors.New("order: payment verification failed")
	// ErrOrderInvalidState indicates the order status forbids the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// PaymentGateway opens gateway-side orders ahead of client capture.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
}

// PaymentSignatureVerifier checks the HMAC submitted after client capture.
type PaymentSignatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Users       repositories.UserRepository
	Gateway     PaymentGateway
	Signatures  PaymentSignatureVerifier
	Mailer      mail.Mailer
	Events      OrderEventPublisher
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	users      repositories.UserRepository
	gateway    PaymentGateway
	signatures PaymentSignatureVerifier
	mailer     mail.Mailer
	events     OrderEventPublisher
	currency   string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		users:      deps.Users,
		gateway:    deps.Gateway,
		signatures: deps.Signatures,
		mailer:     deps.Mailer,
		events:     deps.Events,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PlacedOrder{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return PlacedOrder{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return PlacedOrder{}, err
	}

	items := make([]OrderItem, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return PlacedOrder{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return PlacedOrder{}, fmt.Errorf("%w: quantity for %s must be > 0", ErrOrderInvalidInput, productID)
		}

		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if isNotFound(err) {
				return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
			}
			return PlacedOrder{}, s.mapRepositoryError(err)
		}
		if !product.Active {
			return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, productID)
		}
		if product.Stock < line.Quantity {
			return PlacedOrder{}, fmt.Errorf("%w: %s has %d left", ErrOrderInsufficientStock, productID, product.Stock)
		}

		items = append(items, OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			Price:     product.Price,
			Quantity:  line.Quantity,
			Image:     product.FirstImageURL(),
		})
	}

	pricing := domain.ComputePricing(items)

	if s.gateway == nil {
		return PlacedOrder{}, ErrOrderGatewayUnavailable
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.PaymentContext{Currency: s.currency}, payments.GatewayOrderRequest{
		Amount:   domain.MinorUnits(pricing.TotalPrice),
		Currency: s.currency,
		Notes:    map[string]string{"userId": userID},
	})
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrOrderGatewayUnavailable, err)
	}

	now := s.now()
	shipping := cmd.ShippingAddress
	if strings.TrimSpace(shipping.Country) == "" {
		shipping.Country = "India"
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Items:           items,
		ShippingAddress: shipping,
		Payment: PaymentInfo{
			GatewayOrderID: gatewayOrder.ID,
			Status:         domain.PaymentStatusPending,
		},
		Pricing:   pricing,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := s.orders.Insert(ctx, order)
	if err != nil {
		return PlacedOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       inserted.ID,
		UserID:        userID,
		CurrentStatus: string(inserted.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"gatewayOrderId": gatewayOrder.ID,
			"total":          pricing.TotalPrice,
		},
	})

	return PlacedOrder{Order: inserted, Checkout: gatewayOrder}, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	signature := strings.TrimSpace(cmd.GatewaySignature)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if paymentID == "" || signature == "" {
		return Order{}, fmt.Errorf("%w: payment id and signature are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, ErrOrderForbidden
	}
	if order.Payment.Status == domain.PaymentStatusCompleted {
		return Order{}, ErrOrderAlreadyPaid
	}

	gatewayOrderID := order.Payment.GatewayOrderID
	if supplied := strings.TrimSpace(cmd.GatewayOrderID); supplied != "" && supplied != gatewayOrderID {
		return Order{}, fmt.Errorf("%w: gateway order mismatch", ErrOrderInvalidInput)
	}

	if s.signatures == nil || !s.signatures.Verify(gatewayOrderID, paymentID, signature) {
		now := s.now()
		order.Payment.GatewayPaymentID = paymentID
		order.Payment.GatewaySignature = signature
		order.Payment.Status = domain.PaymentStatusFailed
		order.UpdatedAt = now
		if _, err := s.orders.Update(ctx, order); err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "order.payment.verification.failed", map[string]any{
			"order":   order.ID,
			"payment": paymentID,
		})
		return Order{}, ErrOrderPaymentVerification
	}

	now := s.now()
	confirmed, err := s.orders.Confirm(ctx, repositories.OrderConfirmRequest{
		OrderID: order.ID,
		Payment: PaymentInfo{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: paymentID,
			GatewaySignature: signature,
		},
		Now: now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.sendOrderMail(ctx, confirmed, false)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventConfirmed,
		OrderID:        confirmed.ID,
		UserID:         confirmed.UserID,
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(confirmed.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"gatewayPaymentId": paymentID,
		},
	})

	return confirmed, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.AsAdmin {
		if userID := strings.TrimSpace(cmd.UserID); userID == "" || order.UserID != userID {
			return Order{}, ErrOrderForbidden
		}
	}
	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed:
	default:
		return Order{}, fmt.Errorf("%w: order in status %s cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}
	wasPaid := order.Payment.Status == domain.PaymentStatusCompleted

	now := s.now()
	cancelled, err := s.orders.Cancel(ctx, repositories.OrderCancelRequest{
		OrderID: order.ID,
		Reason:  reason,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.sendOrderMail(ctx, cancelled, true)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        cancelled.ID,
		UserID:         cancelled.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(cancelled.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"reason":   reason,
			"refunded": wasPaid,
		},
	})

	return cancelled, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prev := order.Status
	order.Status = cmd.Status
	order.UpdatedAt = now
	switch cmd.Status {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		UserID:         updated.UserID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"actor": strings.TrimSpace(cmd.ActorID),
		},
	})

	return updated, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListAllOrders(ctx context.Context, filter AdminOrderListFilter) (AdminOrderListing, error) {
	if filter.Status != "" && !domain.ValidOrderStatus(filter.Status) {
		return AdminOrderListing{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return AdminOrderListing{}, s.mapRepositoryError(err)
	}

	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return AdminOrderListing{}, s.mapRepositoryError(err)
	}

	return AdminOrderListing{Orders: page, Stats: stats}, nil
}

// sendOrderMail delivers the confirmation or cancellation email. Delivery
// failures are logged and swallowed so the payment flow never rolls back on a
// mail outage.
func (s *orderService) sendOrderMail(ctx context.Context, order Order, cancellation bool) {
	if s.mailer == nil || s.users == nil {
		return
	}

	user, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		s.logger(ctx, "order.email.recipient.lookup.failed", map[string]any{
			"order": order.ID,
			"user":  order.UserID,
			"error": err.Error(),
		})
		return
	}

	msg := mail.OrderEmail{To: user.Email, UserName: user.Name, Order: order}
	if cancellation {
		err = s.mailer.SendOrderCancellation(ctx, msg)
	} else {
		err = s.mailer.SendOrderConfirmation(ctx, msg)
	}
	if err != nil {
		s.logger(ctx, "order.email.send.failed", map[string]any{
			"order":        order.ID,
			"cancellation": cancellation,
			"error":        err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorInvalidState:
			return fmt.Errorf("%w: %v", ErrOrderAlreadyPaid, err)
		case repositories.OrderErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrOrderProductNotFound, err)
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		}
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validateShippingAddress(addr Address) error {
	required := map[string]string{
		"fullName":     addr.FullName,
		"phone":        addr.Phone,
		"addressLine1": addr.AddressLine1,
		"city":         addr.City,
		"state":        addr.State,
		"pincode":      addr.Pincode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: shipping address %s is required", ErrOrderInvalidInput, field)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
