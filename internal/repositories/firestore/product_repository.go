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

const productCollection = "products"

// ProductRepository persists catalog products in Firestore.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// Insert creates the product document. An existing document with the same ID is a conflict.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, fromDomainProduct(product))
	return pfirestore.WrapError("products.insert", err)
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}

	_, err := r.base.Set(ctx, product.ID, fromDomainProduct(product))
	return err
}

// Delete removes the product document, requiring it to exist.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	return r.base.Delete(ctx, productID, firestore.Exists)
}

// FindByID loads a product by its identifier.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc.ID, doc.Data), nil
}

// List pages through products ordered by creation time descending.
func (r *ProductRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	limit := pager.Limit
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(pager.Cursor)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
		if after, ok := orderCursorValues(cursor); ok {
			q = q.StartAfter(after...)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{}
	for i, doc := range docs {
		if i >= limit {
			break
		}
		page.Items = append(page.Items, toDomainProduct(doc.ID, doc.Data))
	}

	if len(docs) > limit {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.NextCursor = token
	}

	return page, nil
}

type productDocument struct {
	ID        string    `firestore:"id"`
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(product domain.Product) productDocument {
	return productDocument{
		ID:        product.ID,
		Name:      strings.TrimSpace(product.Name),
		Price:     product.Price,
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
	}
}

func toDomainProduct(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:        doc.ID,
		Name:      doc.Name,
		Price:     doc.Price,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if product.ID == "" {
		product.ID = id
	}
	return product
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
