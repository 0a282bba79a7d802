package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/cache"
)

type memProductRepo struct {
	products map[string]domain.Product
	finds    int
}

func newMemProductRepo(products ...domain.Product) *memProductRepo {
	repo := &memProductRepo{products: make(map[string]domain.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memProductRepo) Insert(_ context.Context, product domain.Product) error {
	if _, ok := r.products[product.ID]; ok {
		return &stubRepoError{conflict: true}
	}
	r.products[product.ID] = product
	return nil
}

func (r *memProductRepo) Update(_ context.Context, product domain.Product) error {
	r.products[product.ID] = product
	return nil
}

func (r *memProductRepo) Delete(_ context.Context, productID string) error {
	if _, ok := r.products[productID]; !ok {
		return &stubRepoError{notFound: true}
	}
	delete(r.products, productID)
	return nil
}

func (r *memProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.finds++
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, &stubRepoError{notFound: true}
	}
	return product, nil
}

func (r *memProductRepo) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.Product], error) {
	page := domain.CursorPage[domain.Product]{}
	for _, p := range r.products {
		page.Items = append(page.Items, p)
	}
	return page, nil
}

func TestCreateProduct(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemProductRepo()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TEST" },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := svc.CreateProduct(context.Background(), adminIdentity(), NewProduct{Name: "Walnut Desk", Price: 19900})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID != "prd_01TEST" || product.Name != "Walnut Desk" || product.Price != 19900 {
		t.Fatalf("unexpected product %+v", product)
	}
	if !product.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt %v, got %v", now, product.CreatedAt)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: newMemProductRepo()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.CreateProduct(context.Background(), ownerIdentity("u-1"), NewProduct{Name: "Desk", Price: 1}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateProductSanitisesName(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: newMemProductRepo()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := svc.CreateProduct(context.Background(), adminIdentity(), NewProduct{
		Name:  `<script>alert(1)</script> Oak Chair `,
		Price: 4900,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Name != "Oak Chair" {
		t.Fatalf("expected sanitised name, got %q", product.Name)
	}

	if _, err := svc.CreateProduct(context.Background(), adminIdentity(), NewProduct{Name: "<b></b>", Price: 1}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected ErrProductInvalidInput for empty name after sanitising, got %v", err)
	}
	if _, err := svc.CreateProduct(context.Background(), adminIdentity(), NewProduct{Name: "Desk", Price: -1}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected ErrProductInvalidInput for negative price, got %v", err)
	}
}

func TestUpdateProduct(t *testing.T) {
	repo := newMemProductRepo(domain.Product{ID: "prd_1", Name: "Desk", Price: 100})
	svc, err := NewCatalogService(CatalogServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := svc.UpdateProduct(context.Background(), adminIdentity(), "prd_1", ProductUpdate{Name: "Standing Desk", Price: 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Name != "Standing Desk" || product.Price != 200 {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := svc.UpdateProduct(context.Background(), adminIdentity(), "prd_missing", ProductUpdate{Name: "X", Price: 1}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestDeleteProduct(t *testing.T) {
	repo := newMemProductRepo(domain.Product{ID: "prd_1", Name: "Desk", Price: 100})
	svc, err := NewCatalogService(CatalogServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.DeleteProduct(context.Background(), ownerIdentity("u-1"), "prd_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteProduct(context.Background(), adminIdentity(), "prd_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.DeleteProduct(context.Background(), adminIdentity(), "prd_1"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound on second delete, got %v", err)
	}
}

func TestGetProductUsesCacheUntilWrite(t *testing.T) {
	repo := newMemProductRepo(domain.Product{ID: "prd_1", Name: "Desk", Price: 100})
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: repo,
		Cache:    cache.NewMemoryStore[domain.Product](),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.GetProductByID(ctx, "prd_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetProductByID(ctx, "prd_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.finds != 1 {
		t.Fatalf("expected second read from cache, repo reads=%d", repo.finds)
	}

	if _, err := svc.UpdateProduct(ctx, adminIdentity(), "prd_1", ProductUpdate{Name: "Desk v2", Price: 150}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := svc.GetProductByID(ctx, "prd_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Name != "Desk v2" {
		t.Fatalf("expected fresh read after invalidation, got %+v", product)
	}
}
