package users

import (
	"context"
	"errors"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
)

// ProfileFetcher fetches a single user profile. Satisfied by *Client.
type ProfileFetcher interface {
	GetUser(ctx context.Context, userID, bearerToken string) (*domain.UserProfile, error)
}

// Logger emits structured diagnostic events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// EnricherDeps enumerates the collaborators required by the enricher.
type EnricherDeps struct {
	Fetcher ProfileFetcher
	Breaker *Breaker
	Logger  Logger
}

// Enricher resolves user profiles for order views. A profile lookup never
// fails the caller: breaker rejections and transport failures are logged and
// collapse into an absent profile.
type Enricher struct {
	fetcher ProfileFetcher
	breaker *Breaker
	logger  Logger
}

// NewEnricher validates dependencies and constructs an Enricher.
func NewEnricher(deps EnricherDeps) (*Enricher, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("enricher requires a profile fetcher")
	}
	if deps.Breaker == nil {
		return nil, errors.New("enricher requires a breaker")
	}

	enricher := &Enricher{
		fetcher: deps.Fetcher,
		breaker: deps.Breaker,
		logger:  deps.Logger,
	}
	if enricher.logger == nil {
		enricher.logger = func(context.Context, string, map[string]any) {}
	}
	return enricher, nil
}

// Profile fetches the profile for userID, forwarding the caller's bearer
// token. Returns nil on any failure.
func (e *Enricher) Profile(ctx context.Context, userID, bearerToken string) *domain.UserProfile {
	if e == nil || e.fetcher == nil {
		return nil
	}

	if err := e.breaker.Allow(); err != nil {
		e.logger(ctx, "users.enrich.breaker_open", map[string]any{
			"user_id": userID,
		})
		return nil
	}

	profile, err := e.fetcher.GetUser(ctx, userID, bearerToken)
	if err != nil {
		e.breaker.Failure()
		e.logger(ctx, "users.enrich.failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil
	}

	e.breaker.Success()
	return profile
}
