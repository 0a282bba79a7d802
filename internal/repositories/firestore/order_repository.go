package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/hohichh/marketplace-orders/internal/domain"
	pfirestore "github.com/hohichh/marketplace-orders/internal/platform/firestore"
	"github.com/hohichh/marketplace-orders/internal/platform/pagination"
	"github.com/hohichh/marketplace-orders/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document. An existing document with the same ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}

	if tx := txFromContext(ctx); tx != nil {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// Update overwrites the order document. A missing document is not found.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}

	if tx := txFromContext(ctx); tx != nil {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc, firestore.MergeAll))
	}
	_, err = ref.Set(ctx, doc, firestore.MergeAll)
	return pfirestore.WrapError("orders.update", err)
}

// Delete removes the order document, requiring it to exist.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if tx := txFromContext(ctx); tx != nil {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.delete", tx.Delete(ref, firestore.Exists))
	}
	return r.base.Delete(ctx, orderID, firestore.Exists)
}

// FindByID loads an order by its identifier. When called inside a unit of
// work the read joins the transaction, so that mutation paths observe the
// row they are about to overwrite.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	if tx := txFromContext(ctx); tx != nil {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return toDomainOrder(snap.Ref.ID, doc), nil
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// List queries orders with the supplied filter, ordered by creation time
// descending with the document ID as tie-break. The page size is overfetched
// by one to detect whether a further page exists.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.Limit
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.Cursor)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(filter.IDs) > 0 {
			q = q.Where("id", "in", stringSliceOf(filter.IDs))
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
		if after, ok := orderCursorValues(cursor); ok {
			q = q.StartAfter(after...)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= limit {
			break
		}
		page.Items = append(page.Items, toDomainOrder(doc.ID, doc.Data))
	}

	if len(docs) > limit {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextCursor = token
	}

	return page, nil
}

func orderCursorValues(cursor pagination.Cursor) ([]any, bool) {
	if len(cursor.StartAfter) != 2 {
		return nil, false
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, false
	}
	return []any{createdAt, id}, true
}

func stringSliceOf(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

type orderDocument struct {
	ID        string              `firestore:"id"`
	UserID    string              `firestore:"userId"`
	Status    string              `firestore:"status"`
	Items     []orderItemDocument `firestore:"items"`
	CreatedAt time.Time           `firestore:"createdAt"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int64  `firestore:"quantity"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}
	return orderDocument{
		ID:        order.ID,
		UserID:    order.UserID,
		Status:    string(order.Status),
		Items:     items,
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}
	order := domain.Order{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Status:    domain.OrderStatus(doc.Status),
		Items:     items,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if order.ID == "" {
		order.ID = id
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
