package main

import (
	"context"

	"github.com/sells-group/address-cli/internal/store"
)

// initStore opens the configured store and applies its migrations.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}
