package repositories

import (
	"context"
	"time"

	domain "github.com/karigari/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	Admins() AdminRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductListFilter narrows catalog listings. Zero values leave the dimension
// unconstrained; IncludeInactive is reserved for admin surfaces.
type ProductListFilter struct {
	Category        string
	Keyword         string
	IncludeInactive bool
	Pagination      domain.Pagination
}

// ProductRepository persists catalog entries and their live stock counters.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) (domain.Product, error)
	Update(ctx context.Context, product domain.Product) (domain.Product, error)
	SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// OrderListFilter narrows order listings. UserID scopes results to one
// customer; admin surfaces leave it empty to list across the store.
type OrderListFilter struct {
	UserID     string
	Status     domain.OrderStatus
	Pagination domain.Pagination
}

// OrderStats aggregates counts and revenue across the order collection.
type OrderStats struct {
	TotalOrders  int64
	TotalRevenue float64
}

// OrderConfirmRequest finalises a paid order: the payment references are
// recorded, stock for every line is decremented, and the order transitions to
// confirmed, all inside one transaction.
type OrderConfirmRequest struct {
	OrderID string
	Payment domain.PaymentInfo
	Now     time.Time
}

// OrderCancelRequest cancels an order and restores its line quantities to
// stock inside one transaction.
type OrderCancelRequest struct {
	OrderID string
	Reason  string
	Now     time.Time
}

// OrderRepository persists orders and owns the transactional stock mutations
// tied to their lifecycle.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Stats(ctx context.Context) (OrderStats, error)
	Confirm(ctx context.Context, req OrderConfirmRequest) (domain.Order, error)
	Cancel(ctx context.Context, req OrderCancelRequest) (domain.Order, error)
}

// UserListFilter narrows account listings for admin surfaces.
type UserListFilter struct {
	Pagination domain.Pagination
}

// UserRepository persists shopper accounts, their addresses, and password
// reset state.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.CursorPage[domain.User], error)
}

// AdminRepository persists staff accounts, stored apart from shopper accounts.
type AdminRepository interface {
	Insert(ctx context.Context, admin domain.Admin) (domain.Admin, error)
	FindByID(ctx context.Context, adminID string) (domain.Admin, error)
	FindByEmail(ctx context.Context, email string) (domain.Admin, error)
}

// HealthRepository aggregates dependency health for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
