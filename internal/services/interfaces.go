package services

import (
	"context"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
)

// NewOrderItem is the caller-supplied line for order creation. Product name
// and price are resolved from the catalog, never trusted from the caller.
type NewOrderItem struct {
	ProductID string
	Quantity  int64
}

// OrderSearchQuery narrows admin order searches. Empty fields impose no
// constraint.
type OrderSearchQuery struct {
	IDs        []string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderService drives the order lifecycle. Every operation that acts on
// behalf of a caller takes the identity explicitly; ApplyPaymentOutcome is
// the system path used by the payment listener and takes none.
type OrderService interface {
	Create(ctx context.Context, identity *auth.Identity, items []NewOrderItem) (domain.EnrichedOrder, error)
	UpdateStatus(ctx context.Context, identity *auth.Identity, orderID string, status domain.OrderStatus) (domain.Order, error)
	ApplyPaymentOutcome(ctx context.Context, orderID string, status domain.OrderStatus) error
	Cancel(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error)
	Delete(ctx context.Context, identity *auth.Identity, orderID string) error
	GetByID(ctx context.Context, identity *auth.Identity, orderID string) (domain.EnrichedOrder, error)
	ListByUser(ctx context.Context, identity *auth.Identity, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	Search(ctx context.Context, identity *auth.Identity, query OrderSearchQuery) (domain.CursorPage[domain.Order], error)
}

// NewProduct carries the fields for catalog product creation.
type NewProduct struct {
	Name  string
	Price int64
}

// ProductUpdate carries the fields for catalog product updates.
type ProductUpdate struct {
	Name  string
	Price int64
}

// CatalogService manages the product catalog. Writes are admin-only.
type CatalogService interface {
	CreateProduct(ctx context.Context, identity *auth.Identity, input NewProduct) (domain.Product, error)
	UpdateProduct(ctx context.Context, identity *auth.Identity, productID string, input ProductUpdate) (domain.Product, error)
	DeleteProduct(ctx context.Context, identity *auth.Identity, productID string) error
	GetProductByID(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

// ProfileEnricher resolves user profiles for order views, absorbing failures.
type ProfileEnricher interface {
	Profile(ctx context.Context, userID, bearerToken string) *domain.UserProfile
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error
}
