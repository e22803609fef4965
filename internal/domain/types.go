package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the privilege class carried by an authenticated identity.
type Role string

const (
	// RoleUser identifies a regular shopper account.
	RoleUser Role = "user"
	// RoleAdmin identifies a store administrator.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin identifies an administrator who can manage other admins.
	RoleSuperAdmin Role = "superadmin"
)

// ProductImage stores the public URL and storage object path of one product photo.
type ProductImage struct {
	URL         string
	StoragePath string
}

// Product is a sellable catalog entry with live stock.
type Product struct {
	ID          string
	Title       string
	Description string
	Price       float64
	Stock       int
	Category    string
	Images      []ProductImage
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FirstImageURL returns the URL of the first product image, or "" when none exist.
func (p Product) FirstImageURL() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// Address represents a postal address shared by user profiles and orders.
type Address struct {
	FullName     string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	Pincode      string
	Country      string
	IsDefault    bool
}

// User captures a shopper account. PasswordHash is a bcrypt digest and is
// never serialized to API responses.
type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	Role            Role
	Addresses       []Address
	ResetOTPHash    string
	ResetOTPExpires *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Admin captures a staff account stored separately from shopper accounts.
type Admin struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PaymentStatus enumerates payment capture outcomes tracked on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the gateway order exists but no capture was verified.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates a verified, captured payment.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates signature verification failed for a submitted capture.
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentInfo stores the gateway references recorded on an order.
type PaymentInfo struct {
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Status           PaymentStatus
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment verification.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was verified and stock committed.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ValidOrderStatus reports whether s is one of the recognized lifecycle states.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// OrderItem is an immutable snapshot of a product line at placement time.
type OrderItem struct {
	ProductID string
	Title     string
	Price     float64
	Quantity  int
	Image     string
}

// Order aggregates the line items, shipping destination, payment references,
// and pricing of a single purchase.
type Order struct {
	ID                 string
	UserID             string
	Items              []OrderItem
	ShippingAddress    Address
	Payment            PaymentInfo
	Pricing            Pricing
	Status             OrderStatus
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
