package app

import (
	"context"
	"testing"

	"memory-engine/pkg/config"
	"memory-engine/pkg/secrets"
)

func TestResolveSecretRefs(t *testing.T) {
	ctx := context.Background()
	store := secrets.NewMemoryStore()
	if err := store.Set(ctx, "jwt_signing_key", "k-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "entry_dsn", "postgres://memory:secret@db/pool"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cfg := &config.Config{}
	cfg.API.Middleware.JWTKey = "secret:jwt_signing_key"
	cfg.Storage.Entry.DSN = "secret:entry_dsn"
	cfg.Storage.Cache.Password = "plain-password"

	if err := resolveSecretRefs(ctx, store, cfg); err != nil {
		t.Fatalf("resolveSecretRefs: %v", err)
	}
	if cfg.API.Middleware.JWTKey != "k-123" {
		t.Errorf("jwt key = %q, want k-123", cfg.API.Middleware.JWTKey)
	}
	if cfg.Storage.Entry.DSN != "postgres://memory:secret@db/pool" {
		t.Errorf("entry dsn = %q", cfg.Storage.Entry.DSN)
	}
	if cfg.Storage.Cache.Password != "plain-password" {
		t.Errorf("non-ref value must pass through: %q", cfg.Storage.Cache.Password)
	}

	// 未知引用 fail closed
	cfg.Storage.Span.DSN = "secret:missing"
	if err := resolveSecretRefs(ctx, store, cfg); err == nil {
		t.Fatal("unknown secret ref must fail")
	}
}

func TestNewBootstrap_ResolvesSecretRefsFromEnv(t *testing.T) {
	t.Setenv("MEMENGINE_TEST_JWT_KEY", "env-key")

	cfg := &config.Config{}
	cfg.Secrets.Type = "env"
	cfg.API.Middleware.JWTKey = "secret:MEMENGINE_TEST_JWT_KEY"

	b, err := NewBootstrap(cfg)
	if err != nil {
		t.Fatalf("NewBootstrap: %v", err)
	}
	if b.Config.API.Middleware.JWTKey != "env-key" {
		t.Errorf("jwt key = %q, want env-key", b.Config.API.Middleware.JWTKey)
	}
	if b.Secrets == nil {
		t.Error("secret store must be exposed on bootstrap")
	}
}
