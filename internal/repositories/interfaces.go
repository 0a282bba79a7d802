package repositories

import (
	"context"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
)

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

// OrderRepository persists orders and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

// PingableRepository answers readiness probes against the backing store.
type PingableRepository interface {
	Ping(ctx context.Context) error
}

// OrderListFilter narrows order list queries. Empty slices and zero values
// impose no constraint.
type OrderListFilter struct {
	UserID     string
	IDs        []string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}
