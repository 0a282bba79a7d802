package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/cache"
	"github.com/hohichh/marketplace-orders/internal/platform/config"
	pfirestore "github.com/hohichh/marketplace-orders/internal/platform/firestore"
	firestoreRepo "github.com/hohichh/marketplace-orders/internal/repositories/firestore"
	"github.com/hohichh/marketplace-orders/internal/services"
)

// Repositories bundles the persistence layer shared by the services.
type Repositories struct {
	Orders     *firestoreRepo.OrderRepository
	Products   *firestoreRepo.ProductRepository
	Health     *firestoreRepo.HealthRepository
	UnitOfWork *firestoreRepo.UnitOfWork
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders  services.OrderService
	Catalog services.CatalogService
}

// ContainerDeps carries the external collaborators the container wires the
// service graph around. Enricher and Events are optional; orders are served
// without profile enrichment or event publication when they are absent.
type ContainerDeps struct {
	Config    config.Config
	Firestore *pfirestore.Provider
	Enricher  services.ProfileEnricher
	Events    services.OrderEventPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, caches, and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependency graph on top of a Firestore
// provider. Tests can bypass it and assemble services directly from stubs.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Firestore == nil {
		return nil, errors.New("firestore provider is required")
	}

	repos, err := buildRepositories(deps.Firestore)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(repos, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildRepositories(provider *pfirestore.Provider) (Repositories, error) {
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build order repository: %w", err)
	}
	products, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build product repository: %w", err)
	}
	health, err := firestoreRepo.NewHealthRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build health repository: %w", err)
	}
	unitOfWork, err := firestoreRepo.NewUnitOfWork(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build unit of work: %w", err)
	}

	return Repositories{
		Orders:     orders,
		Products:   products,
		Health:     health,
		UnitOfWork: unitOfWork,
	}, nil
}

func buildServices(repos Repositories, deps ContainerDeps) (Services, error) {
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     repos.Orders,
		Products:   repos.Products,
		UnitOfWork: repos.UnitOfWork,
		Enricher:   deps.Enricher,
		Events:     deps.Events,
		Cache:      cache.NewMemoryStore[domain.Order](),
		CacheTTL:   deps.Config.Cache.OrderTTL,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: repos.Products,
		Cache:    cache.NewMemoryStore[domain.Product](),
		CacheTTL: deps.Config.Cache.ProductTTL,
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	return Services{
		Orders:  orderSvc,
		Catalog: catalogSvc,
	}, nil
}
