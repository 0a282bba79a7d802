package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
	"github.com/hohichh/marketplace-orders/internal/platform/cache"
	"github.com/hohichh/marketplace-orders/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn func(ctx context.Context, order domain.Order) error
	updateFn func(ctx context.Context, order domain.Order) error
	deleteFn func(ctx context.Context, orderID string) error
	findFn   func(ctx context.Context, orderID string) (domain.Order, error)
	listFn   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, order)
}

func (s *stubOrderRepo) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, orderID)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return s.findFn(ctx, orderID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFn(ctx, filter)
}

type stubProductRepo struct {
	findFn func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductRepo) Insert(context.Context, domain.Product) error { return nil }
func (s *stubProductRepo) Update(context.Context, domain.Product) error { return nil }
func (s *stubProductRepo) Delete(context.Context, string) error         { return nil }
func (s *stubProductRepo) List(context.Context, domain.Pagination) (domain.CursorPage[domain.Product], error) {
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn == nil {
		return domain.Product{}, &stubRepoError{notFound: true}
	}
	return s.findFn(ctx, productID)
}

type stubUnitOfWork struct {
	calls int
	err   error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return fn(ctx)
}

type captureOrderEvents struct {
	events []domain.OrderCreatedEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderCreated(_ context.Context, event domain.OrderCreatedEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

type stubEnricher struct {
	profile *domain.UserProfile
	calls   int
	lastTok string
}

func (s *stubEnricher) Profile(_ context.Context, _ string, bearerToken string) *domain.UserProfile {
	s.calls++
	s.lastTok = bearerToken
	return s.profile
}

func ownerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}, RawToken: "tok-" + uid}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
}

func catalogOf(products ...domain.Product) *stubProductRepo {
	index := make(map[string]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return &stubProductRepo{findFn: func(_ context.Context, id string) (domain.Product, error) {
		product, ok := index[id]
		if !ok {
			return domain.Product{}, &stubRepoError{notFound: true}
		}
		return product, nil
	}}
}

func TestCreateOrderSnapshotsProducts(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var inserted domain.Order
	orderRepo := &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}}
	unit := &stubUnitOfWork{}
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orderRepo,
		Products: catalogOf(
			domain.Product{ID: "prd_1", Name: "Walnut Desk", Price: 19900},
			domain.Product{ID: "prd_2", Name: "Oak Chair", Price: 4900},
		),
		UnitOfWork:  unit,
		Events:      events,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TEST" },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enriched, err := svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{
		{ProductID: "prd_1", Quantity: 1},
		{ProductID: "prd_2", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if enriched.ID != "ord_01TEST" {
		t.Fatalf("unexpected order id %q", enriched.ID)
	}
	if enriched.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %q", enriched.Status)
	}
	if len(inserted.Items) != 2 {
		t.Fatalf("expected 2 items persisted, got %d", len(inserted.Items))
	}
	if inserted.Items[0].ProductName != "Walnut Desk" || inserted.Items[0].UnitPrice != 19900 {
		t.Fatalf("expected product snapshot, got %+v", inserted.Items[0])
	}
	if !inserted.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt %v, got %v", now, inserted.CreatedAt)
	}

	if unit.calls != 1 {
		t.Fatalf("expected insert to run in a transaction, calls=%d", unit.calls)
	}

	if len(events.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.OrderID != "ord_01TEST" || event.UserID != "u-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if want := int64(19900 + 4*4900); event.Amount != want {
		t.Fatalf("expected amount %d, got %d", want, event.Amount)
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Create(context.Background(), ownerIdentity("u-1"), nil); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for empty items, got %v", err)
	}
	if _, err := svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{{ProductID: "prd_1", Quantity: 0}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for zero quantity, got %v", err)
	}
	if _, err := svc.Create(context.Background(), nil, []NewOrderItem{{ProductID: "prd_1", Quantity: 1}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing identity, got %v", err)
	}
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{{ProductID: "prd_missing", Quantity: 1}})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCreateOrderPublishFailureDoesNotFail(t *testing.T) {
	var logged []string
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(domain.Product{ID: "prd_1", Name: "Desk", Price: 100}),
		Events:   &captureOrderEvents{err: errors.New("pubsub down")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{{ProductID: "prd_1", Quantity: 1}}); err != nil {
		t.Fatalf("expected create to succeed despite publish failure, got %v", err)
	}

	found := false
	for _, event := range logged {
		if event == "order.event.publish.failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure to be logged, got %v", logged)
	}
}

func TestCreateOrderEnrichmentAbsorbed(t *testing.T) {
	enricher := &stubEnricher{profile: nil}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(domain.Product{ID: "prd_1", Name: "Desk", Price: 100}),
		Enricher: enricher,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enriched, err := svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{{ProductID: "prd_1", Quantity: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.User != nil {
		t.Fatalf("expected absent profile, got %+v", enriched.User)
	}
	if enricher.calls != 1 {
		t.Fatalf("expected enricher call, got %d", enricher.calls)
	}
	if enricher.lastTok != "tok-u-1" {
		t.Fatalf("expected bearer token forwarded, got %q", enricher.lastTok)
	}
}

func TestUpdateStatusRequiresAdmin(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), ownerIdentity("u-1"), "ord_1", domain.OrderStatusShipped)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateStatusOverwritesUnconditionally(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	stored := domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusDelivered}

	var updated domain.Order
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(),
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// delivered back to pending is not a regular transition, the admin path
	// still applies it
	order, err := svc.UpdateStatus(context.Background(), adminIdentity(), "ord_1", domain.OrderStatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusPending || updated.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %q / %q", order.Status, updated.Status)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %v, got %v", now, updated.UpdatedAt)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), adminIdentity(), "ord_1", "teleported")
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestApplyPaymentOutcome(t *testing.T) {
	stored := domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}

	var updates int
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updates++
			stored = order
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.ApplyPaymentOutcome(context.Background(), "ord_1", domain.OrderStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.OrderStatusProcessing || updates != 1 {
		t.Fatalf("expected processing after outcome, got %q updates=%d", stored.Status, updates)
	}

	// replay of the same outcome is a no-op
	if err := svc.ApplyPaymentOutcome(context.Background(), "ord_1", domain.OrderStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updates != 1 {
		t.Fatalf("expected replay to skip the write, updates=%d", updates)
	}
}

func TestApplyPaymentOutcomeUnknownOrder(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.ApplyPaymentOutcome(context.Background(), "ord_missing", domain.OrderStatusProcessing); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelPendingOrder(t *testing.T) {
	stored := domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}
	var updated domain.Order
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := svc.Cancel(context.Background(), ownerIdentity("u-1"), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %q / %q", order.Status, updated.Status)
	}
}

func TestCancelRejectsNonPending(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		orderRepo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "u-1", Status: status}, nil
		}}
		svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.Cancel(context.Background(), ownerIdentity("u-1"), "ord_1"); !errors.Is(err, ErrActionNotPermitted) {
			t.Fatalf("status %s: expected ErrActionNotPermitted, got %v", status, err)
		}
	}
}

func TestCancelOwnershipChecks(t *testing.T) {
	orderRepo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), ownerIdentity("stranger"), "ord_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if _, err := svc.Cancel(context.Background(), adminIdentity(), "ord_1"); err != nil {
		t.Fatalf("expected admin cancel to succeed, got %v", err)
	}
}

func TestDeleteOrder(t *testing.T) {
	var deleted string
	orderRepo := &stubOrderRepo{deleteFn: func(_ context.Context, orderID string) error {
		deleted = orderID
		return nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Delete(context.Background(), ownerIdentity("u-1"), "ord_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	if err := svc.Delete(context.Background(), adminIdentity(), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "ord_1" {
		t.Fatalf("expected delete of ord_1, got %q", deleted)
	}
}

func TestDeleteMissingOrder(t *testing.T) {
	orderRepo := &stubOrderRepo{deleteFn: func(context.Context, string) error {
		return &stubRepoError{notFound: true}
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Delete(context.Background(), adminIdentity(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetByIDOwnership(t *testing.T) {
	enricher := &stubEnricher{profile: &domain.UserProfile{ID: "u-1", Email: "a@b.test"}}
	orderRepo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf(), Enricher: enricher})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.GetByID(context.Background(), ownerIdentity("stranger"), "ord_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}

	enriched, err := svc.GetByID(context.Background(), ownerIdentity("u-1"), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.User == nil || enriched.User.Email != "a@b.test" {
		t.Fatalf("expected enriched profile, got %+v", enriched.User)
	}
}

func TestGetByIDUsesCache(t *testing.T) {
	finds := 0
	orderRepo := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
		finds++
		return domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(),
		Cache:    cache.NewMemoryStore[domain.Order](),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.GetByID(ctx, ownerIdentity("u-1"), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetByID(ctx, ownerIdentity("u-1"), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finds != 1 {
		t.Fatalf("expected second read to hit the cache, repo reads=%d", finds)
	}
}

func TestCancelInvalidatesCache(t *testing.T) {
	status := domain.OrderStatusPending
	finds := 0
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			finds++
			return domain.Order{ID: "ord_1", UserID: "u-1", Status: status}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			status = order.Status
			return nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(),
		Cache:    cache.NewMemoryStore[domain.Order](),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.GetByID(ctx, ownerIdentity("u-1"), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, ownerIdentity("u-1"), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enriched, err := svc.GetByID(ctx, ownerIdentity("u-1"), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cache to be invalidated on write, got status %q", enriched.Status)
	}
	if finds != 3 {
		t.Fatalf("expected repo reads before, during and after the write, got %d", finds)
	}
}

func TestCreateOrderInsertFailureEmitsNoEvent(t *testing.T) {
	orderRepo := &stubOrderRepo{insertFn: func(context.Context, domain.Order) error {
		return &stubRepoError{unavailable: true}
	}}
	events := &captureOrderEvents{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orderRepo,
		Products: catalogOf(domain.Product{ID: "prd_1", Name: "Desk", Price: 100}),
		Events:   events,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Create(context.Background(), ownerIdentity("u-1"), []NewOrderItem{{ProductID: "prd_1", Quantity: 1}}); err == nil {
		t.Fatal("expected create to fail when the insert fails")
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no published event after aborted insert, got %d", len(events.events))
	}
}

func TestCancelIgnoresStaleCache(t *testing.T) {
	finds := 0
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			finds++
			return domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusProcessing}, nil
		},
		updateFn: func(context.Context, domain.Order) error {
			t.Fatal("unexpected write for a non-pending order")
			return nil
		},
	}

	store := cache.NewMemoryStore[domain.Order]()
	ctx := context.Background()
	// a stale cached copy still shows the order as pending
	if err := store.Set(ctx, "ord_1", domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf(), Cache: store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Cancel(ctx, ownerIdentity("u-1"), "ord_1"); !errors.Is(err, ErrActionNotPermitted) {
		t.Fatalf("expected ErrActionNotPermitted, got %v", err)
	}
	if finds != 1 {
		t.Fatalf("expected the cancel to read the repository despite the cached copy, reads=%d", finds)
	}
}

type txMarkerUnitOfWork struct {
	key any
}

func (u *txMarkerUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(context.WithValue(ctx, u.key, true))
}

func TestMutationsReadInsideTransaction(t *testing.T) {
	type markerKey struct{}
	unit := &txMarkerUnitOfWork{key: markerKey{}}

	assertTx := func(ctx context.Context, op string) {
		if ctx.Value(markerKey{}) == nil {
			t.Fatalf("%s ran outside the transaction", op)
		}
	}
	orderRepo := &stubOrderRepo{
		findFn: func(ctx context.Context, _ string) (domain.Order, error) {
			assertTx(ctx, "read")
			return domain.Order{ID: "ord_1", UserID: "u-1", Status: domain.OrderStatusPending}, nil
		},
		updateFn: func(ctx context.Context, _ domain.Order) error {
			assertTx(ctx, "write")
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf(), UnitOfWork: unit})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.UpdateStatus(ctx, adminIdentity(), "ord_1", domain.OrderStatusShipped); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.ApplyPaymentOutcome(ctx, "ord_1", domain.OrderStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, ownerIdentity("u-1"), "ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListByUserAuthorisation(t *testing.T) {
	orderRepo := &stubOrderRepo{listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		if filter.UserID != "u-1" {
			t.Fatalf("expected user filter u-1, got %q", filter.UserID)
		}
		return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.ListByUser(context.Background(), ownerIdentity("stranger"), "u-1", domain.Pagination{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	page, err := svc.ListByUser(context.Background(), ownerIdentity("u-1"), "u-1", domain.Pagination{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}

	if _, err := svc.ListByUser(context.Background(), adminIdentity(), "u-1", domain.Pagination{}); err != nil {
		t.Fatalf("expected admin access, got %v", err)
	}
}

func TestSearchOrders(t *testing.T) {
	var captured repositories.OrderListFilter
	orderRepo := &stubOrderRepo{listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		captured = filter
		return domain.CursorPage[domain.Order]{}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Search(context.Background(), ownerIdentity("u-1"), OrderSearchQuery{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	query := OrderSearchQuery{
		IDs:      []string{"ord_1", "ord_2"},
		Statuses: []domain.OrderStatus{domain.OrderStatusPending},
	}
	if _, err := svc.Search(context.Background(), adminIdentity(), query); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captured.IDs) != 2 || len(captured.Status) != 1 {
		t.Fatalf("expected filter passthrough, got %+v", captured)
	}

	if _, err := svc.Search(context.Background(), adminIdentity(), OrderSearchQuery{Statuses: []domain.OrderStatus{"bogus"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
}

func TestSearchOrdersRejectsTooManyDisjunctions(t *testing.T) {
	listCalls := 0
	orderRepo := &stubOrderRepo{listFn: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		listCalls++
		return domain.CursorPage[domain.Order]{}, nil
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orderRepo, Products: catalogOf()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := make([]string, 16)
	for i := range ids {
		ids[i] = fmt.Sprintf("ord_%d", i)
	}

	// 16 ids alone fit, 16 ids times 2 statuses exceed the backend cap
	if _, err := svc.Search(context.Background(), adminIdentity(), OrderSearchQuery{IDs: ids}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wide := OrderSearchQuery{
		IDs:      ids,
		Statuses: []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusCancelled},
	}
	if _, err := svc.Search(context.Background(), adminIdentity(), wide); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for oversized filter, got %v", err)
	}
	if listCalls != 1 {
		t.Fatalf("expected the oversized filter to be rejected before the query, list calls=%d", listCalls)
	}
}

func TestNewOrderServiceValidatesDeps(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{Products: catalogOf()}); err == nil {
		t.Fatal("expected error for missing order repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}}); err == nil {
		t.Fatal("expected error for missing product repository")
	}
}
