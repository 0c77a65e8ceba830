package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the engine's own system tables if they are missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("create system tables: %w", err)
	}
	return nil
}
