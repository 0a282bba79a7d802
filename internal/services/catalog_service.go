package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
	"github.com/hohichh/marketplace-orders/internal/platform/cache"
	"github.com/hohichh/marketplace-orders/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	defaultProductCacheTTL = 10 * time.Minute
	maxProductNameLength   = 200
)

var (
	// ErrProductInvalidInput signals the caller provided invalid product data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductConflict indicates duplicates or concurrent update conflicts.
	ErrProductConflict = errors.New("product: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Cache    cache.Store[domain.Product]
	CacheTTL time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	cache    cache.Store[domain.Product]
	cacheTTL time.Duration
	policy   *bluemonday.Policy
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
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
		ttl = defaultProductCacheTTL
	}

	return &catalogService{
		products: deps.Products,
		cache:    deps.Cache,
		cacheTTL: ttl,
		policy:   bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, identity *auth.Identity, input NewProduct) (domain.Product, error) {
	if err := RequireAdmin(identity); err != nil {
		return domain.Product{}, err
	}

	name, err := s.sanitizeName(input.Name)
	if err != nil {
		return domain.Product{}, err
	}
	if input.Price < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", ErrProductInvalidInput)
	}

	now := s.clock()
	product := domain.Product{
		ID:        productIDPrefix + s.newID(),
		Name:      name,
		Price:     input.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return domain.Product{}, mapProductRepositoryError(err)
	}

	s.logger(ctx, "product.created", map[string]any{
		"product_id": product.ID,
		"actor":      identity.UID,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, identity *auth.Identity, productID string, input ProductUpdate) (domain.Product, error) {
	if err := RequireAdmin(identity); err != nil {
		return domain.Product{}, err
	}

	name, err := s.sanitizeName(input.Name)
	if err != nil {
		return domain.Product{}, err
	}
	if input.Price < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", ErrProductInvalidInput)
	}

	product, err := s.loadProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	product.Name = name
	product.Price = input.Price
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, mapProductRepositoryError(err)
	}

	s.invalidate(ctx, product.ID)
	s.logger(ctx, "product.updated", map[string]any{
		"product_id": product.ID,
		"actor":      identity.UID,
	})
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, identity *auth.Identity, productID string) error {
	if err := RequireAdmin(identity); err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	if err := s.products.Delete(ctx, productID); err != nil {
		return mapProductRepositoryError(err)
	}

	s.invalidate(ctx, productID)
	s.logger(ctx, "product.deleted", map[string]any{
		"product_id": productID,
		"actor":      identity.UID,
	})
	return nil
}

func (s *catalogService) GetProductByID(ctx context.Context, productID string) (domain.Product, error) {
	return s.loadProduct(ctx, productID)
}

func (s *catalogService) ListProducts(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	page, err := s.products.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, mapProductRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) loadProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	if s.cache != nil {
		if product, ok, err := s.cache.Get(ctx, productID); err == nil && ok {
			return product, nil
		}
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, mapProductRepositoryError(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, product.ID, product, s.cacheTTL); err != nil {
			s.logger(ctx, "product.cache.set.failed", map[string]any{
				"product_id": product.ID,
				"error":      err.Error(),
			})
		}
	}
	return product, nil
}

func (s *catalogService) invalidate(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, productID); err != nil {
		s.logger(ctx, "product.cache.invalidate.failed", map[string]any{
			"product_id": productID,
			"error":      err.Error(),
		})
	}
}

// sanitizeName strips markup and normalises the product name to NFC so that
// lookups and snapshots are stable across input sources.
func (s *catalogService) sanitizeName(raw string) (string, error) {
	name := strings.TrimSpace(s.policy.Sanitize(raw))
	name = norm.NFC.String(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	if len(name) > maxProductNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrProductInvalidInput, maxProductNameLength)
	}
	return name, nil
}

func mapProductRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("product: repository unavailable: %w", err)
		}
	}

	return err
}
