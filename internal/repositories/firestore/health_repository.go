package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/hohichh/marketplace-orders/internal/platform/firestore"
	"github.com/hohichh/marketplace-orders/internal/repositories"
)

// HealthRepository answers readiness probes by issuing a lightweight read
// against the orders collection.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs a Firestore-backed readiness probe.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Ping verifies that the Firestore client can serve a query.
func (r *HealthRepository) Ping(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("health repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(orderCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("orders.ping", err)
	}
	return nil
}

var _ repositories.PingableRepository = (*HealthRepository)(nil)
