package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDependencySetPingSuccess(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(10 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			Name: "pubsub",
			Check: func(context.Context) error {
				return nil
			},
		},
	}

	set, err := NewDependencySet(checks)
	if err != nil {
		t.Fatalf("NewDependencySet: %v", err)
	}

	if err := set.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestDependencySetPingReportsNamedFailure(t *testing.T) {
	sentinel := errors.New("topic missing")
	checks := []DependencyCheck{
		{
			Name:  "firestore",
			Check: func(context.Context) error { return nil },
		},
		{
			Name:  "pubsub",
			Check: func(context.Context) error { return sentinel },
		},
	}

	set, err := NewDependencySet(checks)
	if err != nil {
		t.Fatalf("NewDependencySet: %v", err)
	}

	pingErr := set.Ping(context.Background())
	if pingErr == nil {
		t.Fatal("expected ping failure")
	}
	if !errors.Is(pingErr, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", pingErr)
	}
	if !strings.Contains(pingErr.Error(), "pubsub") {
		t.Fatalf("expected dependency name in error, got %q", pingErr.Error())
	}
}

func TestDependencySetPingHonoursTimeout(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name:    "slow",
			Timeout: 20 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(time.Second):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	}

	set, err := NewDependencySet(checks)
	if err != nil {
		t.Fatalf("NewDependencySet: %v", err)
	}

	start := time.Now()
	pingErr := set.Ping(context.Background())
	if pingErr == nil {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(pingErr, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", pingErr)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("check did not respect its timeout, took %s", elapsed)
	}
}

func TestNewDependencySetValidation(t *testing.T) {
	if _, err := NewDependencySet(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
	if _, err := NewDependencySet([]DependencyCheck{{Name: " "}}); err == nil {
		t.Fatal("expected error for unnamed check")
	}
	if _, err := NewDependencySet([]DependencyCheck{{Name: "firestore"}}); err == nil {
		t.Fatal("expected error for check without function")
	}
}
