package engine

import (
	"context"
	"log/slog"

	"entity-api/internal/config"
	"entity-api/internal/events"
	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

// Authorizer is the authorize hook. A false result without error is a denial.
type Authorizer interface {
	Authorize(ctx context.Context, actor *metadata.UserContext, ability string, entity *metadata.Entity, rec *Record) (bool, error)
}

type AuthorizerFunc func(ctx context.Context, actor *metadata.UserContext, ability string, entity *metadata.Entity, rec *Record) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, actor *metadata.UserContext, ability string, entity *metadata.Entity, rec *Record) (bool, error) {
	return f(ctx, actor, ability, entity, rec)
}

// PasswordHasher hashes password-typed fields before they are stored.
type PasswordHasher func(plain string) (string, error)

// Env holds the process-wide collaborators every handler works with.
type Env struct {
	Store       *store.Store
	Registry    *metadata.Registry
	Transformer *Transformer
	Authorizer  Authorizer
	Hasher      PasswordHasher
	Events      events.Sink
	Logger      *slog.Logger
	Pagination  config.PaginationConfig

	// PreQuery modifiers run for every entity before its own.
	PreQuery []QueryModifier
}

func (env *Env) emit(ctx context.Context, e events.Event) {
	if env.Events != nil {
		env.Events.Emit(ctx, e)
	}
}
