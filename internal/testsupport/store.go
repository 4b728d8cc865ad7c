package testsupport

import (
	"context"
	"testing"

	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/registry"
)

// MustOpenStore opens the job store against the provided config and closes
// it when the test completes.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenRegistry opens a store plus registry against the provided config.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *registry.Registry {
	t.Helper()

	store := MustOpenStore(t, cfg)
	reg, err := registry.NewRegistry(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return reg
}
