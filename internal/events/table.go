package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"entity-api/internal/store"
)

// TableSink appends events to the _events system table.
type TableSink struct {
	store  *store.Store
	logger *slog.Logger
}

func NewTableSink(s *store.Store, logger *slog.Logger) *TableSink {
	return &TableSink{store: s, logger: logger}
}

func (s *TableSink) Emit(ctx context.Context, e Event) {
	if err := s.insert(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "store event", "kind", string(e.Kind), "entity", e.Entity, "error", err)
	}
}

func (s *TableSink) insert(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var key any
	if e.Key != nil {
		key = fmt.Sprintf("%v", e.Key)
	}
	var actor any
	if e.ActorID != "" {
		actor = e.ActorID
	}

	pb := s.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _events (id, kind, entity, actor_id, record_key, payload, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(e.ID), pb.Add(string(e.Kind)), pb.Add(e.Entity), pb.Add(actor), pb.Add(key),
		pb.Add(string(payload)), pb.Add(e.Time))
	if _, err := store.Exec(ctx, s.store.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns the latest events of an entity, newest first.
func (s *TableSink) Recent(ctx context.Context, entity string, limit int) ([]map[string]any, error) {
	pb := s.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("SELECT id, kind, entity, actor_id, record_key, payload, created_at FROM _events WHERE entity = %s ORDER BY id DESC LIMIT %d",
		pb.Add(entity), limit)
	return store.QueryRows(ctx, s.store.DB, sql, pb.Params()...)
}
