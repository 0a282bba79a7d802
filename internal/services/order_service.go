package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
	"github.com/hohichh/marketplace-orders/internal/platform/cache"
	"github.com/hohichh/marketplace-orders/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultOrderCacheTTL = 5 * time.Minute

	// Firestore caps the combined disjunctions of a query at 30; the id and
	// status filters multiply, so the search rejects anything wider.
	maxSearchDisjunctions = 30
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates duplicates or concurrent update conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrActionNotPermitted indicates the order's current state forbids the action.
	ErrActionNotPermitted = errors.New("order: action not permitted in current state")
)

// orderStateTransitions documents the regular lifecycle. The admin status
// update and the payment reconciliation path overwrite unconditionally and do
// not consult this table.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Enricher   ProfileEnricher
	Events     OrderEventPublisher
	Cache      cache.Store[domain.Order]
	CacheTTL   time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	enricher   ProfileEnricher
	events     OrderEventPublisher
	cache      cache.Store[domain.Order]
	cacheTTL   time.Duration
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultOrderCacheTTL
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		unitOfWork: unit,
		enricher:   deps.Enricher,
		events:     deps.Events,
		cache:      deps.Cache,
		cacheTTL:   ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, identity *auth.Identity, items []NewOrderItem) (domain.EnrichedOrder, error) {
	if identity == nil || strings.TrimSpace(identity.UID) == "" {
		return domain.EnrichedOrder{}, fmt.Errorf("%w: missing identity", ErrForbidden)
	}
	if len(items) == 0 {
		return domain.EnrichedOrder{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	now := s.now()

	lines := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return domain.EnrichedOrder{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return domain.EnrichedOrder{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrOrderInvalidInput, productID)
		}

		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return domain.EnrichedOrder{}, mapProductRepositoryError(err)
		}

		lines = append(lines, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    item.Quantity,
		})
	}

	order := domain.Order{
		ID:        orderIDPrefix + s.newID(),
		UserID:    identity.UID,
		Status:    domain.OrderStatusPending,
		Items:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.EnrichedOrder{}, err
	}

	s.publishCreated(ctx, domain.OrderCreatedEvent{
		OrderID: order.ID,
		UserID:  order.UserID,
		Amount:  domain.OrderAmount(order.Items),
	})

	s.logger(ctx, "order.created", map[string]any{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"items":    len(order.Items),
	})

	return s.enrich(ctx, order, identity), nil
}

func (s *orderService) GetByID(ctx context.Context, identity *auth.Identity, orderID string) (domain.EnrichedOrder, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.EnrichedOrder{}, err
	}
	if err := RequireOwnerOrAdmin(identity, order); err != nil {
		return domain.EnrichedOrder{}, err
	}
	return s.enrich(ctx, order, identity), nil
}

func (s *orderService) ListByUser(ctx context.Context, identity *auth.Identity, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if err := RequireSelfOrAdmin(identity, userID); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Search(ctx context.Context, identity *auth.Identity, query OrderSearchQuery) (domain.CursorPage[domain.Order], error) {
	if err := RequireAdmin(identity); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for _, status := range query.Statuses {
		if !domain.IsKnownOrderStatus(status) {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	disjunctions := len(query.IDs)
	if disjunctions == 0 {
		disjunctions = 1
	}
	if len(query.Statuses) > 0 {
		disjunctions *= len(query.Statuses)
	}
	if disjunctions > maxSearchDisjunctions {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: id and status filters combine to %d values, the maximum is %d", ErrOrderInvalidInput, disjunctions, maxSearchDisjunctions)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		IDs:        query.IDs,
		Status:     query.Statuses,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// UpdateStatus is the administrative path: the target status is written
// unconditionally, without consulting the transition table. Customer-driven
// changes go through Cancel. The current row is read inside the same
// transaction as the write.
func (s *orderService) UpdateStatus(ctx context.Context, identity *auth.Identity, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if err := RequireAdmin(identity); err != nil {
		return domain.Order{}, err
	}
	if !domain.IsKnownOrderStatus(status) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var order domain.Order
	var previous domain.OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = loaded.Status
		loaded.Status = status
		loaded.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.ID)
	s.logger(ctx, "order.status.updated", map[string]any{
		"order_id": order.ID,
		"from":     string(previous),
		"to":       string(status),
		"actor":    identity.UID,
	})
	if previous != status && !canTransition(previous, status) {
		s.logger(ctx, "order.status.irregular_transition", map[string]any{
			"order_id": order.ID,
			"from":     string(previous),
			"to":       string(status),
		})
	}
	return order, nil
}

// ApplyPaymentOutcome is the system path used by the payment reconciliation
// listener. It bypasses the authorization guard and, like the admin path,
// overwrites the status unconditionally. Replays of an already-applied
// outcome are a no-op.
func (s *orderService) ApplyPaymentOutcome(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !domain.IsKnownOrderStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var order domain.Order
	var previous domain.OrderStatus
	applied := false
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if loaded.Status == status {
			return nil
		}
		previous = loaded.Status
		loaded.Status = status
		loaded.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		applied = true
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.invalidate(ctx, order.ID)
	s.logger(ctx, "order.payment.outcome.applied", map[string]any{
		"order_id": order.ID,
		"from":     string(previous),
		"to":       string(status),
	})
	return nil
}

// Cancel is the customer path: owners and admins may cancel, and only while
// the order is still pending. The pending check runs against the row read
// inside the transaction, not a cached copy, so a concurrent payment outcome
// cannot be overwritten.
func (s *orderService) Cancel(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var order domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := RequireOwnerOrAdmin(identity, loaded); err != nil {
			return err
		}
		if loaded.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: cannot cancel order in status %q", ErrActionNotPermitted, loaded.Status)
		}
		loaded.Status = domain.OrderStatusCancelled
		loaded.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.ID)
	s.logger(ctx, "order.cancelled", map[string]any{
		"order_id": order.ID,
		"actor":    identity.UID,
	})
	return order, nil
}

func (s *orderService) Delete(ctx context.Context, identity *auth.Identity, orderID string) error {
	if err := RequireAdmin(identity); err != nil {
		return err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, orderID)
	s.logger(ctx, "order.deleted", map[string]any{
		"order_id": orderID,
		"actor":    identity.UID,
	})
	return nil
}

// loadOrder backs the read paths only. Mutation paths read through the
// repository inside their transaction and never consult the cache.
func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if s.cache != nil {
		if order, ok, err := s.cache.Get(ctx, orderID); err == nil && ok {
			return order, nil
		}
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, order.ID, order, s.cacheTTL); err != nil {
			s.logger(ctx, "order.cache.set.failed", map[string]any{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
	return order, nil
}

func (s *orderService) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, orderID); err != nil {
		s.logger(ctx, "order.cache.invalidate.failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) enrich(ctx context.Context, order domain.Order, identity *auth.Identity) domain.EnrichedOrder {
	enriched := domain.EnrichedOrder{Order: order}
	if s.enricher == nil {
		return enriched
	}
	var token string
	if identity != nil {
		token = identity.RawToken
	}
	enriched.User = s.enricher.Profile(ctx, order.UserID, token)
	return enriched
}

func (s *orderService) publishCreated(ctx context.Context, event domain.OrderCreatedEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
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

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
