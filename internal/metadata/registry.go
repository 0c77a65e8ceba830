package metadata

import (
	"sort"
	"sync"
)

type Registry struct {
	mu          sync.RWMutex
	entities    map[string]*Entity
	links       map[string][]*Link // keyed by viewing entity name
	relations   []*Relation
	permissions map[string][]*Permission // keyed by "entity:action"
	bindings    map[string]string        // explicit entity name -> schema name
}

func NewRegistry() *Registry {
	return &Registry{
		entities:    make(map[string]*Entity),
		links:       make(map[string][]*Link),
		permissions: make(map[string][]*Permission),
		bindings:    make(map[string]string),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities sorted by name.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Relation, len(r.relations))
	copy(out, r.relations)
	return out
}

// Link returns the relation reachable from entity under the given accessor, or nil.
func (r *Registry) Link(entityName, accessor string) *Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links[entityName] {
		if l.Accessor == accessor {
			return l
		}
	}
	return nil
}

// Links returns every relation visible from the entity.
func (r *Registry) Links(entityName string) []*Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.links[entityName]
}

// GetPermissions returns the permission entries for an entity/action pair.
func (r *Registry) GetPermissions(entity, action string) []*Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.permissions[entity+":"+action]
}

// Bindings returns a copy of the explicit entity-name bindings.
func (r *Registry) Bindings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}

// Load replaces all entities and relations in the registry.
func (r *Registry) Load(entities []*Entity, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.relations = relations
	r.links = make(map[string][]*Link)
	for _, rel := range relations {
		if rel.SourceKey == "" {
			if src := r.entities[rel.Source]; src != nil {
				rel.SourceKey = src.PrimaryKey.Field
			}
		}
		r.links[rel.Source] = append(r.links[rel.Source], &Link{Relation: rel, Forward: true, Accessor: rel.Name})
		r.links[rel.Target] = append(r.links[rel.Target], &Link{Relation: rel, Forward: false, Accessor: rel.InverseName()})
	}
}

// LoadPermissions replaces the permission policies.
func (r *Registry) LoadPermissions(perms []*Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions = make(map[string][]*Permission)
	for _, p := range perms {
		key := p.Entity + ":" + p.Action
		r.permissions[key] = append(r.permissions[key], p)
	}
}

// LoadBindings replaces the explicit entity-name bindings.
func (r *Registry) LoadBindings(bindings map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[string]string, len(bindings))
	for k, v := range bindings {
		r.bindings[k] = v
	}
}
