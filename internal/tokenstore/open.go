package tokenstore

import (
	"fmt"

	"github.com/giantswarm/mcpgate/internal/config"
	"github.com/giantswarm/mcpgate/pkg/oauth"
)

// Open builds the Store selected by cfg.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StorageMemory, "":
		return NewMemoryStore(), nil
	case config.StorageSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.StorageValkey:
		var password oauth.RedactedToken
		if cfg.ValkeyPasswordRef != "" {
			p, err := config.ResolveSecret(cfg.ValkeyPasswordRef)
			if err != nil {
				return nil, fmt.Errorf("resolving valkey password: %w", err)
			}
			password = p
		}
		return NewValkeyStore(ValkeyConfig{
			Addresses: cfg.ValkeyAddresses,
			Password:  password,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
