package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "orders-dev",
		"API_USERS_BASE_URL":      "https://users.example.com",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "orders-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "orders-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderCreatedTopic != defaultOrderCreatedTopic {
		t.Errorf("unexpected default topic: %s", cfg.PubSub.OrderCreatedTopic)
	}
	if cfg.PubSub.PaymentEventsSubscription != defaultPaymentEventsSub {
		t.Errorf("unexpected default subscription: %s", cfg.PubSub.PaymentEventsSubscription)
	}
	if cfg.Users.Timeout != defaultUsersTimeout {
		t.Errorf("unexpected default users timeout: %s", cfg.Users.Timeout)
	}
	if cfg.Breaker.FailureThreshold != defaultBreakerThreshold {
		t.Errorf("unexpected default breaker threshold: %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Cooldown != defaultBreakerCooldown {
		t.Errorf("unexpected default breaker cooldown: %s", cfg.Breaker.Cooldown)
	}
	if cfg.Cache.OrderTTL != defaultOrderCacheTTL {
		t.Errorf("unexpected default order cache ttl: %s", cfg.Cache.OrderTTL)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != "" {
		t.Errorf("expected jwks url to default to empty, got %s", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                        "9090",
		"API_SERVER_READ_TIMEOUT":                "20s",
		"API_FIREBASE_PROJECT_ID":                "orders-prod",
		"API_FIRESTORE_PROJECT_ID":               "orders-fire",
		"API_PUBSUB_PROJECT_ID":                  "orders-pubsub",
		"API_PUBSUB_ORDER_CREATED_TOPIC":         "order-created-prod",
		"API_PUBSUB_PAYMENT_EVENTS_SUBSCRIPTION": "payment-events-prod",
		"API_USERS_BASE_URL":                     "https://users.internal",
		"API_USERS_TIMEOUT":                      "2s",
		"API_BREAKER_FAILURE_THRESHOLD":          "3",
		"API_BREAKER_COOLDOWN":                   "45s",
		"API_CACHE_ORDER_TTL":                    "90s",
		"API_SECURITY_HMAC_SECRETS":              "internal=secret://hmac/internal",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://hmac/internal" {
			t.Fatalf("unexpected secret ref: %s", ref)
		}
		return "resolved-hmac", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %#v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "orders-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "orders-pubsub" || cfg.PubSub.OrderCreatedTopic != "order-created-prod" {
		t.Errorf("unexpected pubsub config: %#v", cfg.PubSub)
	}
	if cfg.Users.BaseURL != "https://users.internal" || cfg.Users.Timeout != 2*time.Second {
		t.Errorf("unexpected users config: %#v", cfg.Users)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.Cooldown != 45*time.Second {
		t.Errorf("unexpected breaker config: %#v", cfg.Breaker)
	}
	if cfg.Cache.OrderTTL != 90*time.Second {
		t.Errorf("unexpected cache config: %#v", cfg.Cache)
	}
	if cfg.Security.HMAC.Secrets["internal"] != "resolved-hmac" {
		t.Errorf("expected hmac secret resolved, got %q", cfg.Security.HMAC.Secrets["internal"])
	}
}

func TestLoadValidationFailure(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := validationErr.Fields()
	want := map[string]bool{"Firebase.ProjectID": false, "Users.BaseURL": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, found := range want {
		if !found {
			t.Errorf("expected %s in validation fields %v", field, fields)
		}
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "orders-dev",
		"API_USERS_BASE_URL":        "https://users.example.com",
		"API_SECURITY_HMAC_SECRETS": "internal=sm://broken/ref",
	}

	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("backend down")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err == nil {
		t.Fatal("expected secret error")
	}

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://broken/ref" {
		t.Errorf("expected normalised ref, got %s", secretErr.Ref)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "orders-dev",
		"API_USERS_BASE_URL":      "https://users.example.com",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Security.HMAC.Secrets[internal]"))
	if err == nil {
		t.Fatal("expected missing secrets error")
	}

	var missingErr *MissingSecretsError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	names := missingErr.Names()
	if len(names) != 1 || names[0] != "Security.HMAC.Secrets[internal]" {
		t.Errorf("unexpected missing names: %v", names)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "API_FIREBASE_PROJECT_ID=dotenv-project\nAPI_USERS_BASE_URL=https://users.dotenv\nexport API_SERVER_PORT=7070\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firebase.ProjectID != "dotenv-project" {
		t.Errorf("expected dotenv project, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected dotenv port 7070, got %s", cfg.Server.Port)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "API_FIREBASE_PROJECT_ID=dotenv-project\nAPI_USERS_BASE_URL=https://users.dotenv\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "map-project"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firebase.ProjectID != "map-project" {
		t.Errorf("expected env map to win, got %s", cfg.Firebase.ProjectID)
	}
}
