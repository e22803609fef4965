package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the accessor
// interface consumed by services.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	orders   *OrderRepository
	users    *UserRepository
	admins   *AdminRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	admins, err := NewAdminRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: firestorePing(provider)},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		products: products,
		orders:   orders,
		users:    users,
		admins:   admins,
		health:   health,
	}, nil
}

// Products returns the catalog repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Users returns the shopper account repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Admins returns the staff account repository.
func (r *Registry) Admins() repositories.AdminRepository { return r.admins }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction boundary.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// firestorePing probes connectivity with a single document read. A missing
// document still proves the backend answered.
func firestorePing(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collection("system").Doc("ping").Get(ctx)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		return nil
	}
}

var _ repositories.Registry = (*Registry)(nil)
