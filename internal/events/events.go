// Package events delivers notifications about completed entity operations.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	Created       Kind = "Created"
	Updated       Kind = "Updated"
	Destroyed     Kind = "Destroyed"
	BulkDestroyed Kind = "BulkDestroyed"
	BulkUpdated   Kind = "BulkUpdated" // raised by bulk actions via Handler.ReportBulkUpdate
	ItemAction    Kind = "ItemAction"
	BulkAction    Kind = "BulkAction"
)

// Event is one completed operation. Payload is the change record for writes,
// the removed keys for destroys and the action name for actions.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Entity  string    `json:"entity"`
	ActorID string    `json:"actor_id,omitempty"`
	Key     any       `json:"key,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// New stamps an event with a ULID and the current time.
func New(kind Kind, entity, actorID string, key, payload any) Event {
	return Event{
		ID:      ulid.Make().String(),
		Kind:    kind,
		Entity:  entity,
		ActorID: actorID,
		Key:     key,
		Payload: payload,
		Time:    time.Now().UTC(),
	}
}

// Sink is fire-and-forget: delivery failures are the sink's problem.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

// Nop discards events.
func Nop() Sink { return nopSink{} }

// LogSink writes one structured line per event.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	s.logger.InfoContext(ctx, "entity event",
		"id", e.ID,
		"kind", string(e.Kind),
		"entity", e.Entity,
		"actor", e.ActorID,
		"key", e.Key,
	)
}
