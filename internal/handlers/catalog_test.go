package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
	"github.com/hohichh/marketplace-orders/internal/services"
)

type stubCatalogService struct {
	createFn func(context.Context, *auth.Identity, services.NewProduct) (domain.Product, error)
	updateFn func(context.Context, *auth.Identity, string, services.ProductUpdate) (domain.Product, error)
	deleteFn func(context.Context, *auth.Identity, string) error
	getFn    func(context.Context, string) (domain.Product, error)
	listFn   func(context.Context, domain.Pagination) (domain.CursorPage[domain.Product], error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, identity *auth.Identity, input services.NewProduct) (domain.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, identity, input)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, identity *auth.Identity, productID string, input services.ProductUpdate) (domain.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, identity, productID, input)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, identity *auth.Identity, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, identity, productID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) GetProductByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func catalogRouter(service services.CatalogService) chi.Router {
	handler := NewCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	router.Route("/admin", handler.AdminRoutes)
	return router
}

func testProduct(id string) domain.Product {
	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	return domain.Product{
		ID:        id,
		Name:      "Oak Chair",
		Price:     4500,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCatalogHandlersGetProduct(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(_ context.Context, productID string) (domain.Product, error) {
			return testProduct(productID), nil
		},
	}
	router := catalogRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ID != "prd_1" || resp.Name != "Oak Chair" || resp.Price != 4500 {
		t.Fatalf("unexpected payload: %#v", resp)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, services.ErrProductNotFound
		},
	}
	router := catalogRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCatalogHandlersListProducts(t *testing.T) {
	service := &stubCatalogService{
		listFn: func(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
			if pager.Limit != 25 {
				t.Fatalf("expected limit 25, got %d", pager.Limit)
			}
			return domain.CursorPage[domain.Product]{
				Items:      []domain.Product{testProduct("prd_1")},
				NextCursor: "tok-next",
			}, nil
		},
	}
	router := catalogRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/?pageSize=25", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected list response: %#v", resp)
	}
}

func TestCatalogHandlersCreateProduct(t *testing.T) {
	var capturedInput services.NewProduct
	service := &stubCatalogService{
		createFn: func(_ context.Context, _ *auth.Identity, input services.NewProduct) (domain.Product, error) {
			capturedInput = input
			return testProduct("prd_9"), nil
		},
	}
	router := catalogRouter(service)

	body := bytes.NewBufferString(`{"name":"Oak Chair","price":4500}`)
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/admin/products", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/api/v1/products/prd_9" {
		t.Fatalf("unexpected Location header: %s", got)
	}
	if capturedInput.Name != "Oak Chair" || capturedInput.Price != 4500 {
		t.Fatalf("unexpected input: %#v", capturedInput)
	}
}

func TestCatalogHandlersCreateProductForbidden(t *testing.T) {
	service := &stubCatalogService{
		createFn: func(context.Context, *auth.Identity, services.NewProduct) (domain.Product, error) {
			return domain.Product{}, services.ErrForbidden
		},
	}
	router := catalogRouter(service)

	body := bytes.NewBufferString(`{"name":"Oak Chair","price":4500}`)
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/admin/products", body), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestCatalogHandlersUpdateProductValidationError(t *testing.T) {
	service := &stubCatalogService{
		updateFn: func(context.Context, *auth.Identity, string, services.ProductUpdate) (domain.Product, error) {
			return domain.Product{}, services.ErrProductInvalidInput
		},
	}
	router := catalogRouter(service)

	body := bytes.NewBufferString(`{"name":"","price":-1}`)
	req := authedRequest(httptest.NewRequest(http.MethodPut, "/admin/products/prd_1", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCatalogHandlersDeleteProduct(t *testing.T) {
	var deletedID string
	service := &stubCatalogService{
		deleteFn: func(_ context.Context, _ *auth.Identity, productID string) error {
			deletedID = productID
			return nil
		},
	}
	router := catalogRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodDelete, "/admin/products/prd_1", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deletedID != "prd_1" {
		t.Fatalf("expected delete for prd_1, got %s", deletedID)
	}
}
