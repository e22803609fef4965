package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/mail"
	"github.com/karigari/api/internal/payments"
	"github.com/karigari/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn  func(context.Context, domain.Order) (domain.Order, error)
	updateFn  func(context.Context, domain.Order) (domain.Order, error)
	findFn    func(context.Context, string) (domain.Order, error)
	listFn    func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	statsFn   func(context.Context) (repositories.OrderStats, error)
	confirmFn func(context.Context, repositories.OrderConfirmRequest) (domain.Order, error)
	cancelFn  func(context.Context, repositories.OrderCancelRequest) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) Stats(ctx context.Context) (repositories.OrderStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return repositories.OrderStats{}, nil
}

func (s *stubOrderRepo) Confirm(ctx context.Context, req repositories.OrderConfirmRequest) (domain.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, req)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, req)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubProductRepo struct {
	findFn func(context.Context, string) (domain.Product, error)
	listFn func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) Insert(_ context.Context, product domain.Product) (domain.Product, error) {
	return product, nil
}

func (s *stubProductRepo) Update(_ context.Context, product domain.Product) (domain.Product, error) {
	return product, nil
}

func (s *stubProductRepo) SoftDelete(context.Context, string, time.Time) error {
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type stubUserRepo struct {
	insertFn      func(context.Context, domain.User) (domain.User, error)
	updateFn      func(context.Context, domain.User) (domain.User, error)
	findFn        func(context.Context, string) (domain.User, error)
	findByEmailFn func(context.Context, string) (domain.User, error)
	listFn        func(context.Context, repositories.UserListFilter) (domain.CursorPage[domain.User], error)
}

func (s *stubUserRepo) Insert(ctx context.Context, user domain.User) (domain.User, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, user)
	}
	return user, nil
}

func (s *stubUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, user)
	}
	return user, nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.User{}, errors.New("not implemented")
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.User{}, errors.New("not implemented")
}

func (s *stubUserRepo) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.User]{}, nil
}

type stubGateway struct {
	createFn func(context.Context, payments.PaymentContext, payments.GatewayOrderRequest) (payments.GatewayOrder, error)
}

func (s *stubGateway) CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, paymentCtx, req)
	}
	return payments.GatewayOrder{ID: "rzp_order_1", Amount: req.Amount, Currency: req.Currency}, nil
}

type stubSignatures struct {
	valid bool
}

func (s *stubSignatures) Verify(string, string, string) bool {
	return s.valid
}

type captureMailer struct {
	confirmations []mail.OrderEmail
	cancellations []mail.OrderEmail
	err           error
}

func (c *captureMailer) SendOrderConfirmation(_ context.Context, msg mail.OrderEmail) error {
	c.confirmations = append(c.confirmations, msg)
	return c.err
}

func (c *captureMailer) SendOrderCancellation(_ context.Context, msg mail.OrderEmail) error {
	c.cancellations = append(c.cancellations, msg)
	return c.err
}

func (c *captureMailer) SendPasswordResetOTP(context.Context, mail.OTPEmail) error {
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

func notFoundRepoError() error {
	return &fakeRepoError{notFound: true}
}

type fakeRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return "repository error" }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func fixedOrderClock() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedOrderClock()
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01TESTULID" }
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func catalogProduct(id string, price float64, stock int) domain.Product {
	return domain.Product{
		ID:     id,
		Title:  "Terracotta Clay Diya",
		Price:  price,
		Stock:  stock,
		Active: true,
		Images: []domain.ProductImage{{URL: "https://cdn.example.com/diya.jpg"}},
	}
}

func shippingAddressFixture() domain.Address {
	return domain.Address{
		FullName:     "Asha Rao",
		Phone:        "9876543210",
		AddressLine1: "14 Lake View Road",
		City:         "Bengaluru",
		State:        "Karnataka",
		Pincode:      "560001",
	}
}

func TestOrderServicePlaceOrder(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}
	var inserted domain.Order
	var gatewayReq payments.GatewayOrderRequest

	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			inserted = order
			return order, nil
		},
	}
	productRepo := &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			return catalogProduct(productID, 100, 5), nil
		},
	}
	gateway := &stubGateway{
		createFn: func(_ context.Context, _ payments.PaymentContext, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
			gatewayReq = req
			return payments.GatewayOrder{ID: "rzp_order_abc", KeyID: "rzp_test_key", Amount: req.Amount, Currency: req.Currency}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orderRepo,
		Products: productRepo,
		Gateway:  gateway,
		Events:   events,
	})

	placed, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:          "usr_1",
		Items:           []PlaceOrderItem{{ProductID: "prd_diya", Quantity: 2}},
		ShippingAddress: shippingAddressFixture(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	pricing := placed.Order.Pricing
	if pricing.ItemsPrice != 200 || pricing.TaxPrice != 36 || pricing.ShippingPrice != 50 || pricing.TotalPrice != 286 {
		t.Fatalf("unexpected pricing: %+v", pricing)
	}
	if gatewayReq.Amount != 28600 {
		t.Fatalf("expected gateway amount 28600 paise, got %d", gatewayReq.Amount)
	}
	if gatewayReq.Currency != "INR" {
		t.Fatalf("expected INR, got %q", gatewayReq.Currency)
	}
	if gatewayReq.Notes["userId"] != "usr_1" {
		t.Fatalf("expected userId note, got %+v", gatewayReq.Notes)
	}
	if placed.Order.ID != "ord_01TESTULID" {
		t.Fatalf("unexpected order id %q", placed.Order.ID)
	}
	if placed.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", placed.Order.Status)
	}
	if placed.Order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", placed.Order.Payment.Status)
	}
	if placed.Order.Payment.GatewayOrderID != "rzp_order_abc" {
		t.Fatalf("expected gateway order id on payment, got %q", placed.Order.Payment.GatewayOrderID)
	}
	if placed.Checkout.KeyID != "rzp_test_key" {
		t.Fatalf("expected checkout payload to carry gateway key, got %+v", placed.Checkout)
	}
	if inserted.ShippingAddress.Country != "India" {
		t.Fatalf("expected country default, got %q", inserted.ShippingAddress.Country)
	}
	if len(inserted.Items) != 1 || inserted.Items[0].Title != "Terracotta Clay Diya" || inserted.Items[0].Image == "" {
		t.Fatalf("expected snapshotted item, got %+v", inserted.Items)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", events.events)
	}
}

func TestOrderServicePlaceOrderValidation(t *testing.T) {
	ctx := context.Background()
	products := map[string]domain.Product{
		"prd_active":   catalogProduct("prd_active", 100, 5),
		"prd_inactive": {ID: "prd_inactive", Title: "Retired", Price: 80, Stock: 3, Active: false},
		"prd_low":      catalogProduct("prd_low", 100, 1),
	}
	productRepo := &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			product, ok := products[productID]
			if !ok {
				return domain.Product{}, notFoundRepoError()
			}
			return product, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: productRepo,
		Gateway:  &stubGateway{},
	})

	cases := []struct {
		name string
		cmd  PlaceOrderCommand
		want error
	}{
		{
			name: "missing user",
			cmd:  PlaceOrderCommand{Items: []PlaceOrderItem{{ProductID: "prd_active", Quantity: 1}}, ShippingAddress: shippingAddressFixture()},
			want: ErrOrderInvalidInput,
		},
		{
			name: "empty items",
			cmd:  PlaceOrderCommand{UserID: "usr_1", ShippingAddress: shippingAddressFixture()},
			want: ErrOrderInvalidInput,
		},
		{
			name: "zero quantity",
			cmd: PlaceOrderCommand{UserID: "usr_1", Items: []PlaceOrderItem{{ProductID: "prd_active", Quantity: 0}},
				ShippingAddress: shippingAddressFixture()},
			want: ErrOrderInvalidInput,
		},
		{
			name: "missing address field",
			cmd: PlaceOrderCommand{UserID: "usr_1", Items: []PlaceOrderItem{{ProductID: "prd_active", Quantity: 1}},
				ShippingAddress: domain.Address{FullName: "Asha Rao"}},
			want: ErrOrderInvalidInput,
		},
		{
			name: "unknown product",
			cmd: PlaceOrderCommand{UserID: "usr_1", Items: []PlaceOrderItem{{ProductID: "prd_ghost", Quantity: 1}},
				ShippingAddress: shippingAddressFixture()},
			want: ErrOrderProductNotFound,
		},
		{
			name: "inactive product",
			cmd: PlaceOrderCommand{UserID: "usr_1", Items: []PlaceOrderItem{{ProductID: "prd_inactive", Quantity: 1}},
				ShippingAddress: shippingAddressFixture()},
			want: ErrOrderProductUnavailable,
		},
		{
			name: "insufficient stock",
			cmd: PlaceOrderCommand{UserID: "usr_1", Items: []PlaceOrderItem{{ProductID: "prd_low", Quantity: 4}},
				ShippingAddress: shippingAddressFixture()},
			want: ErrOrderInsufficientStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServicePlaceOrderWithoutGateway(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{},
		Products: &stubProductRepo{
			findFn: func(_ context.Context, productID string) (domain.Product, error) {
				return catalogProduct(productID, 100, 5), nil
			},
		},
	})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "usr_1",
		Items:           []PlaceOrderItem{{ProductID: "prd_diya", Quantity: 1}},
		ShippingAddress: shippingAddressFixture(),
	})
	if !errors.Is(err, ErrOrderGatewayUnavailable) {
		t.Fatalf("expected ErrOrderGatewayUnavailable, got %v", err)
	}
}

func pendingOrderFixture() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		UserID: "usr_1",
		Items:  []domain.OrderItem{{ProductID: "prd_diya", Title: "Terracotta Clay Diya", Price: 100, Quantity: 2}},
		Payment: domain.PaymentInfo{
			GatewayOrderID: "rzp_order_abc",
			Status:         domain.PaymentStatusPending,
		},
		Pricing: domain.Pricing{ItemsPrice: 200, TaxPrice: 36, ShippingPrice: 50, TotalPrice: 286},
		Status:  domain.OrderStatusPending,
	}
}

func TestOrderServiceVerifyPayment(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}
	mailer := &captureMailer{}
	var confirmReq repositories.OrderConfirmRequest

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingOrderFixture(), nil
		},
		confirmFn: func(_ context.Context, req repositories.OrderConfirmRequest) (domain.Order, error) {
			confirmReq = req
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusConfirmed
			order.Payment = req.Payment
			order.Payment.Status = domain.PaymentStatusCompleted
			return order, nil
		},
	}
	userRepo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{ID: "usr_1", Name: "Asha Rao", Email: "asha@example.com"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     orderRepo,
		Products:   &stubProductRepo{},
		Users:      userRepo,
		Gateway:    &stubGateway{},
		Signatures: &stubSignatures{valid: true},
		Mailer:     mailer,
		Events:     events,
	})

	order, err := svc.VerifyPayment(ctx, VerifyPaymentCommand{
		UserID:           "usr_1",
		OrderID:          "ord_1",
		GatewayOrderID:   "rzp_order_abc",
		GatewayPaymentID: "pay_123",
		GatewaySignature: "deadbeef",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
	if confirmReq.Payment.GatewayPaymentID != "pay_123" || confirmReq.Payment.GatewaySignature != "deadbeef" {
		t.Fatalf("unexpected confirm payment refs: %+v", confirmReq.Payment)
	}
	if len(mailer.confirmations) != 1 || mailer.confirmations[0].To != "asha@example.com" {
		t.Fatalf("expected one confirmation email, got %+v", mailer.confirmations)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.confirmed" {
		t.Fatalf("expected order.confirmed event, got %+v", events.events)
	}
}

func TestOrderServiceVerifyPaymentSignatureMismatch(t *testing.T) {
	ctx := context.Background()
	var updated domain.Order
	confirmCalled := false

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingOrderFixture(), nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			updated = order
			return order, nil
		},
		confirmFn: func(_ context.Context, _ repositories.OrderConfirmRequest) (domain.Order, error) {
			confirmCalled = true
			return domain.Order{}, errors.New("must not be called")
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     orderRepo,
		Products:   &stubProductRepo{},
		Gateway:    &stubGateway{},
		Signatures: &stubSignatures{valid: false},
	})

	_, err := svc.VerifyPayment(ctx, VerifyPaymentCommand{
		UserID:           "usr_1",
		OrderID:          "ord_1",
		GatewayPaymentID: "pay_123",
		GatewaySignature: "forged",
	})
	if !errors.Is(err, ErrOrderPaymentVerification) {
		t.Fatalf("expected ErrOrderPaymentVerification, got %v", err)
	}
	if confirmCalled {
		t.Fatal("stock mutation must not run on signature mismatch")
	}
	if updated.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment recorded, got %s", updated.Payment.Status)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("order status should stay pending, got %s", updated.Status)
	}
	if updated.Payment.GatewayPaymentID != "pay_123" || updated.Payment.GatewaySignature != "forged" {
		t.Fatalf("expected submitted refs persisted, got %+v", updated.Payment)
	}
}

func TestOrderServiceVerifyPaymentGuards(t *testing.T) {
	ctx := context.Background()

	paid := pendingOrderFixture()
	paid.Payment.Status = domain.PaymentStatusCompleted
	paid.Status = domain.OrderStatusConfirmed

	cases := []struct {
		name  string
		order domain.Order
		err   error
		cmd   VerifyPaymentCommand
		want  error
	}{
		{
			name:  "not found",
			err:   notFoundRepoError(),
			cmd:   VerifyPaymentCommand{UserID: "usr_1", OrderID: "ord_missing", GatewayPaymentID: "pay_1", GatewaySignature: "sig"},
			want:  ErrOrderNotFound,
		},
		{
			name:  "foreign order",
			order: pendingOrderFixture(),
			cmd:   VerifyPaymentCommand{UserID: "usr_2", OrderID: "ord_1", GatewayPaymentID: "pay_1", GatewaySignature: "sig"},
			want:  ErrOrderForbidden,
		},
		{
			name:  "already paid",
			order: paid,
			cmd:   VerifyPaymentCommand{UserID: "usr_1", OrderID: "ord_1", GatewayPaymentID: "pay_1", GatewaySignature: "sig"},
			want:  ErrOrderAlreadyPaid,
		},
		{
			name:  "gateway order mismatch",
			order: pendingOrderFixture(),
			cmd: VerifyPaymentCommand{UserID: "usr_1", OrderID: "ord_1", GatewayOrderID: "rzp_other",
				GatewayPaymentID: "pay_1", GatewaySignature: "sig"},
			want: ErrOrderInvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubOrderRepo{
				findFn: func(_ context.Context, _ string) (domain.Order, error) {
					if tc.err != nil {
						return domain.Order{}, tc.err
					}
					return tc.order, nil
				},
			}
			svc := newTestOrderService(t, OrderServiceDeps{
				Orders:     repo,
				Products:   &stubProductRepo{},
				Gateway:    &stubGateway{},
				Signatures: &stubSignatures{valid: true},
			})
			if _, err := svc.VerifyPayment(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServiceVerifyPaymentMailFailureSwallowed(t *testing.T) {
	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingOrderFixture(), nil
		},
		confirmFn: func(_ context.Context, req repositories.OrderConfirmRequest) (domain.Order, error) {
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusConfirmed
			order.Payment = req.Payment
			order.Payment.Status = domain.PaymentStatusCompleted
			return order, nil
		},
	}
	userRepo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{ID: "usr_1", Email: "asha@example.com"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     orderRepo,
		Products:   &stubProductRepo{},
		Users:      userRepo,
		Gateway:    &stubGateway{},
		Signatures: &stubSignatures{valid: true},
		Mailer:     &captureMailer{err: errors.New("smtp down")},
	})

	if _, err := svc.VerifyPayment(context.Background(), VerifyPaymentCommand{
		UserID:           "usr_1",
		OrderID:          "ord_1",
		GatewayPaymentID: "pay_123",
		GatewaySignature: "deadbeef",
	}); err != nil {
		t.Fatalf("mail failure must not fail verification: %v", err)
	}
}

func TestOrderServiceCancelOrder(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}
	mailer := &captureMailer{}
	var cancelReq repositories.OrderCancelRequest

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusConfirmed
			order.Payment.Status = domain.PaymentStatusCompleted
			return order, nil
		},
		cancelFn: func(_ context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
			cancelReq = req
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusCancelled
			order.Payment.Status = domain.PaymentStatusCompleted
			order.CancellationReason = req.Reason
			order.CancelledAt = &req.Now
			return order, nil
		},
	}
	userRepo := &stubUserRepo{
		findFn: func(_ context.Context, _ string) (domain.User, error) {
			return domain.User{ID: "usr_1", Name: "Asha Rao", Email: "asha@example.com"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orderRepo,
		Products: &stubProductRepo{},
		Users:    userRepo,
		Gateway:  &stubGateway{},
		Mailer:   mailer,
		Events:   events,
	})

	order, err := svc.CancelOrder(ctx, CancelOrderCommand{UserID: "usr_1", OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if cancelReq.Reason != "Cancelled by user" {
		t.Fatalf("expected default reason, got %q", cancelReq.Reason)
	}
	if len(mailer.cancellations) != 1 {
		t.Fatalf("expected one cancellation email, got %d", len(mailer.cancellations))
	}
	if len(events.events) != 1 || events.events[0].Type != "order.cancelled" {
		t.Fatalf("expected order.cancelled event, got %+v", events.events)
	}
	if refunded, _ := events.events[0].Metadata["refunded"].(bool); !refunded {
		t.Fatalf("expected refunded metadata for paid order, got %+v", events.events[0].Metadata)
	}
}

func TestOrderServiceCancelOrderGuards(t *testing.T) {
	ctx := context.Background()
	shipped := pendingOrderFixture()
	shipped.Status = domain.OrderStatusShipped

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return shipped, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
	})

	if _, err := svc.CancelOrder(ctx, CancelOrderCommand{UserID: "usr_1", OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for shipped order, got %v", err)
	}
	if _, err := svc.CancelOrder(ctx, CancelOrderCommand{UserID: "usr_2", OrderID: "ord_1"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for foreign order, got %v", err)
	}
}

func TestOrderServiceCancelOrderAsAdmin(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingOrderFixture(), nil
		},
		cancelFn: func(_ context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusCancelled
			order.CancellationReason = req.Reason
			return order, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
	})

	order, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: "Out of stock", AsAdmin: true})
	if err != nil {
		t.Fatalf("CancelOrder as admin: %v", err)
	}
	if order.CancellationReason != "Out of stock" {
		t.Fatalf("expected supplied reason, got %q", order.CancellationReason)
	}
}

func TestOrderServiceUpdateStatus(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}
	var updated domain.Order

	repo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			order := pendingOrderFixture()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			updated = order
			return order, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
		Events:   events,
	})

	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusDelivered, ActorID: "adm_1"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	want := time.Date(2025, 6, 10, 8, 15, 0, 0, time.UTC)
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(want) {
		t.Fatalf("expected delivery timestamp %v, got %v", want, updated.DeliveredAt)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.status.changed" {
		t.Fatalf("expected status change event, got %+v", events.events)
	}
	if events.events[0].PreviousStatus != string(domain.OrderStatusShipped) {
		t.Fatalf("expected previous status shipped, got %q", events.events[0].PreviousStatus)
	}

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatus("teleported")}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
}

func TestOrderServiceGetOrder(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingOrderFixture(), nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
	})

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "usr_1"}); err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", UserID: "usr_2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	// Empty UserID means an admin lookup and skips the ownership check.
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1"}); err != nil {
		t.Fatalf("admin GetOrder: %v", err)
	}
}

func TestOrderServiceListAllOrders(t *testing.T) {
	var gotFilter repositories.OrderListFilter
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{pendingOrderFixture()}}, nil
		},
		statsFn: func(_ context.Context) (repositories.OrderStats, error) {
			return repositories.OrderStats{TotalOrders: 12, TotalRevenue: 3432}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
	})

	listing, err := svc.ListAllOrders(context.Background(), AdminOrderListFilter{Status: domain.OrderStatusPending})
	if err != nil {
		t.Fatalf("ListAllOrders: %v", err)
	}
	if gotFilter.Status != domain.OrderStatusPending || gotFilter.UserID != "" {
		t.Fatalf("unexpected filter: %+v", gotFilter)
	}
	if listing.Stats.TotalOrders != 12 || listing.Stats.TotalRevenue != 3432 {
		t.Fatalf("unexpected stats: %+v", listing.Stats)
	}
	if len(listing.Orders.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(listing.Orders.Items))
	}

	if _, err := svc.ListAllOrders(context.Background(), AdminOrderListFilter{Status: domain.OrderStatus("lost")}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status filter, got %v", err)
	}
}

func TestOrderServiceListUserOrders(t *testing.T) {
	var gotFilter repositories.OrderListFilter
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{pendingOrderFixture()}}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   repo,
		Products: &stubProductRepo{},
		Gateway:  &stubGateway{},
	})

	page, err := svc.ListUserOrders(context.Background(), "usr_1", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListUserOrders: %v", err)
	}
	if gotFilter.UserID != "usr_1" {
		t.Fatalf("expected user scoping, got %+v", gotFilter)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}

	if _, err := svc.ListUserOrders(context.Background(), "", domain.Pagination{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for empty user, got %v", err)
	}
}
