package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/config"
)

// New builds a Store from configuration. Provider "postgres" connects,
// migrates, and seeds; "memory" returns an empty in-process store.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "memory":
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil

	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("connected to postgres store", zap.Int("max_conns", cfg.MaxConns))
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}
