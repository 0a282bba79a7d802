package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultDependencyTimeout = 1500 * time.Millisecond
)

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencySetOption customises the behaviour of a DependencySet.
type DependencySetOption func(*DependencySet)

// WithDependencyTimeout overrides the default timeout applied when a check omits its own timeout.
func WithDependencyTimeout(timeout time.Duration) DependencySetOption {
	return func(set *DependencySet) {
		if timeout > 0 {
			set.defaultTimeout = timeout
		}
	}
}

// DependencySet probes a group of infrastructure dependencies concurrently.
// Each check runs under its own timeout; the first failure is reported with
// the dependency name attached.
type DependencySet struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
}

// NewDependencySet validates the check set and builds a DependencySet.
func NewDependencySet(checks []DependencyCheck, opts ...DependencySetOption) (*DependencySet, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health: dependency %s missing check function", check.Name)
		}
	}

	set := &DependencySet{
		checks:         make([]DependencyCheck, len(checks)),
		defaultTimeout: defaultDependencyTimeout,
	}
	copy(set.checks, checks)

	for _, opt := range opts {
		if opt != nil {
			opt(set)
		}
	}
	return set, nil
}

// Ping evaluates every dependency check and returns the first failure.
func (s *DependencySet) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("health: context is required")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	wg.Add(len(s.checks))
	for _, check := range s.checks {
		check := check
		go func() {
			defer wg.Done()

			timeout := check.Timeout
			if timeout <= 0 {
				timeout = s.defaultTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := check.Check(checkCtx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", check.Name, err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return firstErr
}
