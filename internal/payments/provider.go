package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusCreated indicates the gateway order exists and awaits customer payment.
	StatusCreated Status = "created"
	// StatusCaptured indicates the gateway reports the payment as captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failed payment attempt.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// GatewayOrderRequest captures the payload required to open a gateway order.
// Amount is in the smallest currency unit (paise for INR).
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder represents the gateway-side order returned to the client for capture.
type GatewayOrder struct {
	ID       string
	Provider string
	KeyID    string
	Amount   int64
	Currency string
	Receipt  string
	Status   Status
	Raw      map[string]any
}

// LookupRequest identifies a captured payment for reconciliation.
type LookupRequest struct {
	PaymentID string
}

// PaymentDetails normalises gateway specific fields for storage.
type PaymentDetails struct {
	Provider  string
	PaymentID string
	OrderID   string
	Status    Status
	Amount    int64
	Currency  string
	Method    string
	Raw       map[string]any
}

// Provider defines the contract for payment gateway adapters to implement.
type Provider interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	KeyID() string
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req GatewayOrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	if order.KeyID == "" {
		order.KeyID = provider.KeyID()
	}
	return order, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
