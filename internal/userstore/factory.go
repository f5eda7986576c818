package userstore

import (
	"fmt"

	"github.com/acqadvantage/relay/internal/config"
)

// New creates a Store based on the configured driver.
func New(cfg config.UserStoreConfig) (Store, error) {
	switch cfg.Driver {
	case "backendless", "":
		return NewBackendless(cfg.BaseURL), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported userstore driver: %q", cfg.Driver)
	}
}
