package services

import (
	"context"
	"time"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/payments"
	"github.com/karigari/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductImage       = domain.ProductImage
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentInfo        = domain.PaymentInfo
	PaymentStatus      = domain.PaymentStatus
	Pricing            = domain.Pricing
	Address            = domain.Address
	User               = domain.User
	Admin              = domain.Admin
	Role               = domain.Role
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order placement, payment verification, and lifecycle flows.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListAllOrders(ctx context.Context, filter AdminOrderListFilter) (AdminOrderListing, error)
}

// CatalogService manages the product catalog and its image uploads.
type CatalogService interface {
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error)
}

// UserService manages shopper and staff accounts, sessions, and password resets.
type UserService interface {
	Register(ctx context.Context, cmd RegisterUserCommand) (AuthSession, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthSession, error)
	AdminLogin(ctx context.Context, cmd LoginCommand) (AdminSession, error)
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (User, error)
	RemoveAddress(ctx context.Context, cmd RemoveAddressCommand) (User, error)
	RequestPasswordReset(ctx context.Context, cmd RequestPasswordResetCommand) error
	ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error
	ListUsers(ctx context.Context, query UserListQuery) (domain.CursorPage[User], error)
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// PlaceOrderItem is one requested line in a new order.
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
}

type PlaceOrderCommand struct {
	UserID          string
	Items           []PlaceOrderItem
	ShippingAddress Address
}

// PlacedOrder pairs the persisted order with the gateway order the client
// needs to open the checkout widget.
type PlacedOrder struct {
	Order    Order
	Checkout payments.GatewayOrder
}

// VerifyPaymentCommand carries the gateway capture references submitted by the client.
type VerifyPaymentCommand struct {
	UserID           string
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// CancelOrderCommand requests cancellation. AsAdmin bypasses the ownership check.
type CancelOrderCommand struct {
	UserID  string
	OrderID string
	Reason  string
	AsAdmin bool
}

// UpdateOrderStatusCommand moves an order to an arbitrary lifecycle state.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

// GetOrderQuery loads one order. An empty UserID skips the ownership check.
type GetOrderQuery struct {
	OrderID string
	UserID  string
}

type AdminOrderListFilter struct {
	Status     OrderStatus
	Pagination Pagination
}

// AdminOrderListing pairs an order page with store-wide aggregates.
type AdminOrderListing struct {
	Orders domain.CursorPage[Order]
	Stats  repositories.OrderStats
}

type ProductListQuery struct {
	Category        string
	Keyword         string
	IncludeInactive bool
	Pagination      Pagination
}

type CreateProductCommand struct {
	Title       string
	Description string
	Price       float64
	Stock       int
	Category    string
	Images      []ProductImage
	ActorID     string
}

// UpdateProductCommand applies partial changes. Nil fields are left untouched;
// a non-nil Images slice replaces the image set.
type UpdateProductCommand struct {
	ProductID   string
	Title       *string
	Description *string
	Price       *float64
	Stock       *int
	Category    *string
	Images      []ProductImage
	Active      *bool
	ActorID     string
}

type DeleteProductCommand struct {
	ProductID string
	ActorID   string
}

type ProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
}

// ProductImageUpload describes the signed upload slot issued to the client.
type ProductImageUpload struct {
	UploadURL   string
	Method      string
	Headers     map[string]string
	StoragePath string
	PublicURL   string
	ExpiresAt   time.Time
}

type RegisterUserCommand struct {
	Name     string
	Email    string
	Password string
}

type LoginCommand struct {
	Email    string
	Password string
}

// AuthSession is an issued shopper token plus the account it belongs to.
type AuthSession struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// AdminSession is an issued staff token plus the account it belongs to.
type AdminSession struct {
	Token     string
	ExpiresAt time.Time
	Admin     Admin
}

// UpdateProfileCommand applies partial profile changes. Nil fields are left untouched.
type UpdateProfileCommand struct {
	UserID string
	Name   *string
	Email  *string
}

// UpsertAddressCommand adds or replaces a profile address. A negative Index appends.
type UpsertAddressCommand struct {
	UserID  string
	Index   int
	Address Address
}

type RemoveAddressCommand struct {
	UserID string
	Index  int
}

type RequestPasswordResetCommand struct {
	Email string
}

type ResetPasswordCommand struct {
	Email       string
	OTP         string
	NewPassword string
}

type UserListQuery struct {
	Pagination Pagination
}
