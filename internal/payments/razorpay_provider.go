package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Logger    RazorpayLogger
	Clock     func() time.Time
	Clients   *razorpayClients
}

// RazorpayProvider implements the Provider interface using Razorpay APIs.
type RazorpayProvider struct {
	api    razorpayClients
	keyID  string
	clock  func() time.Time
	logger RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if (keyID == "" || keySecret == "") && cfg.Clients == nil {
		return nil, errors.New("razorpay: key id and key secret are required")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		rc := razorpay.NewClient(keyID, keySecret)
		clients = razorpayClients{
			orders:   rc.Order,
			payments: rc.Payment,
		}
	}

	if clients.orders == nil || clients.payments == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		api:   clients,
		keyID: keyID,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// KeyID returns the public key identifier clients use to open the checkout widget.
func (p *RazorpayProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

// CreateOrder opens a Razorpay order for the requested amount.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: order amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		receipt = fmt.Sprintf("order_%d", p.clock().UnixMilli())
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := p.api.orders.Create(data, nil)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}

	orderID := stringField(body, "id")
	if orderID == "" {
		return GatewayOrder{}, errors.New("razorpay: create order response missing id")
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"gatewayOrderId": orderID,
		"amount":         req.Amount,
		"currency":       currency,
	})

	return GatewayOrder{
		ID:       orderID,
		Provider: "razorpay",
		KeyID:    p.keyID,
		Amount:   int64Field(body, "amount", req.Amount),
		Currency: currency,
		Receipt:  receipt,
		Status:   razorpayOrderStatus(stringField(body, "status")),
		Raw:      body,
	}, nil
}

// LookupPayment retrieves a captured payment for reconciliation.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	body, err := p.api.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: fetch payment: %w", err)
	}

	details := PaymentDetails{
		Provider:  "razorpay",
		PaymentID: stringField(body, "id"),
		OrderID:   stringField(body, "order_id"),
		Status:    razorpayPaymentStatus(stringField(body, "status")),
		Amount:    int64Field(body, "amount", 0),
		Currency:  strings.ToUpper(stringField(body, "currency")),
		Method:    stringField(body, "method"),
		Raw:       body,
	}
	if details.PaymentID == "" {
		details.PaymentID = paymentID
	}
	return details, nil
}

func razorpayOrderStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid":
		return StatusCaptured
	case "attempted", "created", "":
		return StatusCreated
	default:
		return StatusCreated
	}
}

func razorpayPaymentStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured":
		return StatusCaptured
	case "refunded":
		return StatusRefunded
	case "failed":
		return StatusFailed
	default:
		return StatusCreated
	}
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if value, ok := body[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func int64Field(body map[string]interface{}, key string, fallback int64) int64 {
	if body == nil {
		return fallback
	}
	switch v := body[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return fallback
	}
}
