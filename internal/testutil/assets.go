package testutil

import "boneguide-go/internal/assets"

// NewTestAssetStore creates an in-memory image store.
func NewTestAssetStore() *assets.MemoryStore {
	return assets.NewMemoryStore()
}
