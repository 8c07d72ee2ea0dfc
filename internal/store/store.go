package store

import (
	"context"
	"fmt"

	"github.com/Alfredo-rv/SAAI/internal/config"
)

// New builds the result store selected by cfg.Driver
func New(ctx context.Context, cfg config.StoreConfig) (ResultStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryResultStore(cfg.MemoryCapacity), nil
	case "postgres":
		return NewPostgresResultStore(ctx, cfg.Postgres.ConnString(), cfg.Postgres.MaxConns)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
