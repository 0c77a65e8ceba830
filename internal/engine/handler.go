package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"entity-api/internal/events"
	"entity-api/internal/metadata"
	"entity-api/internal/store"
)

// EntityHandler is what the transport talks to. Every operation authorizes
// itself before touching the store.
type EntityHandler interface {
	Name() string
	Type() *Type
	Config() *Config
	Authorize(ctx context.Context, action string, rec *Record) error
	Index(ctx context.Context, p *Params) (*Page, error)
	Item(ctx context.Context, id string) (map[string]any, error)
	Create(ctx context.Context, in *Input) (map[string]any, error)
	Update(ctx context.Context, id string, in *Input) (map[string]any, error)
	FastUpdate(ctx context.Context, id string, in *Input) (map[string]any, error)
	Destroy(ctx context.Context, id string) error
	BulkDestroy(ctx context.Context, keys []any) ([]any, error)
	Action(ctx context.Context, id, action string, in *Input) (any, error)
	BulkAction(ctx context.Context, action string, in *Input) (any, error)
	LastChanges() Changes
	Meta(ctx context.Context) *Meta
}

// Handler is the generic per-request handler of one entity.
type Handler struct {
	env    *Env
	typ    *Type
	name   string
	actor  *metadata.UserContext
	config *Config

	lastChanges Changes
}

// NewHandler builds the configuration for t and binds it to one actor.
func NewHandler(env *Env, t *Type, name string, actor *metadata.UserContext) *Handler {
	return &Handler{
		env:    env,
		typ:    t,
		name:   name,
		actor:  actor,
		config: buildConfig(env, t),
	}
}

func (h *Handler) Name() string                 { return h.name }
func (h *Handler) Type() *Type                  { return h.typ }
func (h *Handler) Config() *Config              { return h.config }
func (h *Handler) Env() *Env                    { return h.env }
func (h *Handler) Actor() *metadata.UserContext { return h.actor }

// LastChanges is the change record of the last successful write.
func (h *Handler) LastChanges() Changes { return h.lastChanges }

type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	LastPage    int   `json:"last_page"`
	Total       int64 `json:"total"`
}

type Page struct {
	Pagination Pagination       `json:"pagination"`
	Items      []map[string]any `json:"items"`
}

// Meta describes an entity for client-side capability discovery.
type Meta struct {
	Permissions  map[string]bool    `json:"permissions"`
	FilterFields *metadata.FieldSet `json:"filter_fields"`
	IndexFields  *metadata.FieldSet `json:"index_fields"`
	ItemFields   *metadata.FieldSet `json:"item_fields"`
	Searchable   bool               `json:"searchable"`
	Title        string             `json:"title"`
	ItemTitle    string             `json:"item_title"`
	CreateTitle  string             `json:"create_title"`
}

// metaActions are probed by Meta, in this order.
var metaActions = []string{"index", "item", "create", "simpleCreate", "update", "destroy"}

// Authorize checks the ability list, then consults the authorize hook.
func (h *Handler) Authorize(ctx context.Context, action string, rec *Record) error {
	c := h.config
	if c.Abilities != nil && !slices.Contains(c.Abilities, action) {
		return ForbiddenError(action, h.name, "allowed")
	}
	if h.env.Authorizer != nil {
		ability := action
		if c.UsePolicies && c.PolicyPrefix != "" {
			ability = c.PolicyPrefix + upperFirst(action)
		}
		ok, err := h.env.Authorizer.Authorize(ctx, h.actor, ability, h.typ.Schema, rec)
		if err != nil {
			return err
		}
		if !ok {
			return ForbiddenError(action, h.name, "authorized")
		}
	}
	return nil
}

func (h *Handler) Index(ctx context.Context, p *Params) (*Page, error) {
	if err := h.Authorize(ctx, "index", nil); err != nil {
		return nil, err
	}
	e := h.typ.Schema
	db := h.env.Store.DB

	q, err := h.BuildQuery(ctx, p)
	if err != nil {
		return nil, err
	}
	countSQL, args, err := q.CountSQL(h.env.Store.Dialect)
	if err != nil {
		return nil, err
	}
	total, err := store.QueryInt64(ctx, db, countSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", h.name, err)
	}

	perPage := max(p.PerPage, 1)
	rows, err := h.fetchRows(ctx, db, e, q.Clone().ForPage(p.Page, perPage))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", h.name, err)
	}
	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = recordFromRow(e, row)
	}
	if err := h.loadRelations(ctx, db, e, records, q.EagerLoads()); err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(records))
	for _, r := range records {
		item, err := h.transform(ctx, db, r, h.config.IndexFields, true)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	return &Page{
		Pagination: Pagination{
			CurrentPage: max(p.Page, 1),
			PerPage:     perPage,
			LastPage:    max(lastPage, 1),
			Total:       total,
		},
		Items: items,
	}, nil
}

func (h *Handler) Item(ctx context.Context, id string) (map[string]any, error) {
	rec, err := h.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.Authorize(ctx, "item", rec); err != nil {
		return nil, err
	}
	return h.TransformItem(ctx, rec)
}

// TransformItem renders the editing representation: item fields, relations as keys.
func (h *Handler) TransformItem(ctx context.Context, rec *Record) (map[string]any, error) {
	return h.Transform(ctx, rec, h.config.ItemFields, false)
}

// TransformIndexItem renders a listing row: index fields, non-editable relations embedded.
func (h *Handler) TransformIndexItem(ctx context.Context, rec *Record) (map[string]any, error) {
	return h.Transform(ctx, rec, h.config.IndexFields, true)
}

func (h *Handler) Create(ctx context.Context, in *Input) (map[string]any, error) {
	if err := h.Authorize(ctx, "create", nil); err != nil {
		return nil, err
	}
	rec := NewRecord(h.typ.Schema)
	if err := h.Validate(ctx, rec, in, false); err != nil {
		return nil, err
	}
	changes, err := h.save(ctx, rec, h.config.ItemFields, in)
	if err != nil {
		return nil, err
	}
	h.lastChanges = changes
	h.env.emit(ctx, events.New(events.Created, h.name, h.actor.ActorID(), rec.Key(), changes))

	fresh, err := h.findKey(ctx, rec.Key())
	if err != nil {
		return nil, err
	}
	return h.TransformItem(ctx, fresh)
}

func (h *Handler) Update(ctx context.Context, id string, in *Input) (map[string]any, error) {
	rec, err := h.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.Authorize(ctx, "update", rec); err != nil {
		return nil, err
	}
	if err := h.Validate(ctx, rec, in, false); err != nil {
		return nil, err
	}
	if err := h.update(ctx, rec, h.config.ItemFields, in); err != nil {
		return nil, err
	}
	fresh, err := h.findKey(ctx, rec.Key())
	if err != nil {
		return nil, err
	}
	return h.TransformItem(ctx, fresh)
}

// FastUpdate saves the single index field named by __field, validating only
// the keys present in the request.
func (h *Handler) FastUpdate(ctx context.Context, id string, in *Input) (map[string]any, error) {
	rec, err := h.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.Authorize(ctx, "update", rec); err != nil {
		return nil, err
	}
	field, _ := in.Values["__field"].(string)
	if !h.config.IndexFields.Has(field) {
		return nil, InvalidPayloadError(fmt.Sprintf("%q is not an index field of %s", field, h.name))
	}
	if err := h.Validate(ctx, rec, in, true); err != nil {
		return nil, err
	}
	if err := h.update(ctx, rec, h.config.IndexFields.Only(field), in); err != nil {
		return nil, err
	}
	fresh, err := h.findKey(ctx, rec.Key())
	if err != nil {
		return nil, err
	}
	return h.TransformIndexItem(ctx, fresh)
}

func (h *Handler) update(ctx context.Context, rec *Record, fields *metadata.FieldSet, in *Input) error {
	changes, err := h.save(ctx, rec, fields, in)
	if err != nil {
		return err
	}
	h.lastChanges = changes
	if len(changes) > 0 {
		h.env.emit(ctx, events.New(events.Updated, h.name, h.actor.ActorID(), rec.Key(), changes))
	}
	return nil
}

func (h *Handler) Destroy(ctx context.Context, id string) error {
	rec, err := h.find(ctx, id)
	if err != nil {
		return err
	}
	if err := h.Authorize(ctx, "destroy", rec); err != nil {
		return err
	}
	err = h.env.Store.InTx(ctx, func(tx *sql.Tx) error {
		return h.remove(ctx, tx, rec)
	})
	if err != nil {
		return PersistenceError(h.name, err)
	}
	h.env.emit(ctx, events.New(events.Destroyed, h.name, h.actor.ActorID(), rec.Key(), nil))
	return nil
}

// BulkDestroy removes the live rows among keys that the pre-query modifiers
// let through and returns exactly the keys it removed.
func (h *Handler) BulkDestroy(ctx context.Context, keys []any) ([]any, error) {
	if err := h.Authorize(ctx, "destroy", nil); err != nil {
		return nil, err
	}
	e := h.typ.Schema
	destroyed := []any{}

	coerced := make([]any, 0, len(keys))
	for _, k := range keys {
		if v, ok := h.coerceKey(scalar(k)); ok {
			coerced = append(coerced, v)
		}
	}
	if len(coerced) == 0 {
		return destroyed, nil
	}

	q := h.baseQuery()
	qc := &QueryContext{Entity: e, Actor: h.actor, Params: &Params{}}
	for _, m := range h.config.PreQuery {
		if err := m.ModifyQuery(ctx, q, qc); err != nil {
			return nil, err
		}
	}
	q.WhereIn(e.PrimaryKey.Field, coerced).OrderBy(e.PrimaryKey.Field, false)

	err := h.env.Store.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := h.fetchRows(ctx, tx, e, q)
		if err != nil {
			return err
		}
		for _, row := range rows {
			rec := recordFromRow(e, row)
			if err := h.remove(ctx, tx, rec); err != nil {
				return err
			}
			destroyed = append(destroyed, rec.Key())
		}
		return nil
	})
	if err != nil {
		return nil, PersistenceError(h.name, err)
	}
	h.env.emit(ctx, events.New(events.BulkDestroyed, h.name, h.actor.ActorID(), nil, destroyed))
	return destroyed, nil
}

// Action runs a registered item action on the record with the given key.
func (h *Handler) Action(ctx context.Context, id, action string, in *Input) (any, error) {
	rec, err := h.find(ctx, id)
	if err != nil {
		return nil, err
	}
	name := ActionName(action)
	fn, ok := h.typ.Actions[name]
	if !ok {
		return nil, MethodNotSupportedError(h.name, "action"+upperFirst(name))
	}
	if err := h.Authorize(ctx, name, rec); err != nil {
		return nil, err
	}
	res, err := fn(ctx, &ActionRequest{Handler: h, Actor: h.actor, Record: rec, Payload: in.Values})
	if err != nil {
		return nil, err
	}
	h.env.emit(ctx, events.New(events.ItemAction, h.name, h.actor.ActorID(), rec.Key(), name))
	return res, nil
}

// BulkAction runs a registered bulk action; the payload's keys are passed along.
func (h *Handler) BulkAction(ctx context.Context, action string, in *Input) (any, error) {
	name := ActionName(action)
	fn, ok := h.typ.BulkActions[name]
	if !ok {
		return nil, MethodNotSupportedError(h.name, "bulk"+upperFirst(name))
	}
	if err := h.Authorize(ctx, name, nil); err != nil {
		return nil, err
	}
	res, err := fn(ctx, &ActionRequest{Handler: h, Actor: h.actor, Keys: in.List("keys"), Payload: in.Values})
	if err != nil {
		return nil, err
	}
	h.env.emit(ctx, events.New(events.BulkAction, h.name, h.actor.ActorID(), nil, name))
	return res, nil
}

// ReportBulkUpdate lets a bulk action announce the records it changed, keyed
// by record key. Empty entries are dropped; with none left nothing is emitted.
func (h *Handler) ReportBulkUpdate(ctx context.Context, changes map[string]Changes) {
	out := make(map[string]Changes, len(changes))
	for key, c := range changes {
		if len(c) > 0 {
			out[key] = c
		}
	}
	if len(out) == 0 {
		return
	}
	h.env.emit(ctx, events.New(events.BulkUpdated, h.name, h.actor.ActorID(), nil, out))
}

// Meta probes every discoverable action without touching the store.
func (h *Handler) Meta(ctx context.Context) *Meta {
	perms := make(map[string]bool, len(metaActions))
	for _, a := range metaActions {
		perms[a] = h.Authorize(ctx, a, nil) == nil
	}
	c := h.config
	return &Meta{
		Permissions:  perms,
		FilterFields: c.FilterFields,
		IndexFields:  c.IndexFields,
		ItemFields:   c.ItemFields,
		Searchable:   c.IsSearchable(),
		Title:        c.Title,
		ItemTitle:    c.ItemTitle,
		CreateTitle:  c.CreateTitle,
	}
}

// find loads a live record by its key as given in a URL. A key that cannot
// be a key of this entity is simply not found.
func (h *Handler) find(ctx context.Context, id string) (*Record, error) {
	key, ok := h.coerceKey(id)
	if !ok {
		return nil, NotFoundError(h.name, id)
	}
	return h.findKey(ctx, key)
}

func (h *Handler) findKey(ctx context.Context, key any) (*Record, error) {
	e := h.typ.Schema
	rows, err := h.fetchRows(ctx, h.env.Store.DB, e, h.baseQuery().Where(e.PrimaryKey.Field, "=", key).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", h.name, err)
	}
	if len(rows) == 0 {
		return nil, NotFoundError(h.name, keyString(key))
	}
	return recordFromRow(e, rows[0]), nil
}

func (h *Handler) coerceKey(v any) (any, bool) {
	if pk := h.typ.Schema.PrimaryKeyField(); pk != nil {
		return pk.Coerce(v)
	}
	return v, true
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
