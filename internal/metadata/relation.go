package metadata

type Relation struct {
	Name          string  `json:"name" yaml:"name"`
	Type          string  `json:"type" yaml:"type"` // one_to_one, one_to_many, many_to_many
	Source        string  `json:"source" yaml:"source"`
	Target        string  `json:"target" yaml:"target"`
	SourceKey     string  `json:"source_key,omitempty" yaml:"source_key"`
	TargetKey     string  `json:"target_key,omitempty" yaml:"target_key"`
	JoinTable     string  `json:"join_table,omitempty" yaml:"join_table"`
	SourceJoinKey string  `json:"source_join_key,omitempty" yaml:"source_join_key"`
	TargetJoinKey string  `json:"target_join_key,omitempty" yaml:"target_join_key"`
	Inverse       string  `json:"inverse,omitempty" yaml:"inverse"`
	Pivot         []Field `json:"pivot,omitempty" yaml:"pivot"`
	PivotOrder    string  `json:"pivot_order,omitempty" yaml:"pivot_order"`
	OnDelete      string  `json:"on_delete,omitempty" yaml:"on_delete"` // cascade, set_null, restrict, detach
	Fetch         string  `json:"fetch,omitempty" yaml:"fetch"`         // lazy (default), eager
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many"
}

func (r *Relation) IsOneToMany() bool {
	return r.Type == "one_to_many"
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == "one_to_one"
}

// PivotNames returns the pivot column names of a many_to_many relation.
func (r *Relation) PivotNames() []string {
	names := make([]string, len(r.Pivot))
	for i, f := range r.Pivot {
		names[i] = f.Name
	}
	return names
}

// InverseName is the accessor under which the target entity sees this relation.
func (r *Relation) InverseName() string {
	if r.Inverse != "" {
		return r.Inverse
	}
	return r.Source
}

// DefaultFetch returns the fetch strategy, defaulting to "lazy".
func (r *Relation) DefaultFetch() string {
	if r.Fetch != "" {
		return r.Fetch
	}
	return "lazy"
}

// Link is a relation seen from one of its two entities.
type Link struct {
	*Relation
	// Forward is true when the viewing entity is the relation source.
	Forward bool
	// Accessor is the field name the viewing entity uses for the relation.
	Accessor string
}

// Related returns the entity name on the other side of the link.
func (l *Link) Related() string {
	if l.Forward {
		return l.Target
	}
	return l.Source
}

// ToMany reports whether the accessor yields a list of related records.
func (l *Link) ToMany() bool {
	if l.IsManyToMany() {
		return true
	}
	return l.Forward && l.IsOneToMany()
}

// BelongsTo reports whether the foreign key lives on the viewing entity's table.
func (l *Link) BelongsTo() bool {
	return !l.Forward && !l.IsManyToMany()
}

// HasOne reports whether the link is the source side of a one_to_one relation.
func (l *Link) HasOne() bool {
	return l.Forward && l.IsOneToOne()
}

// ForeignKey is the column holding the reference for belongs-to, has-one and has-many links.
func (l *Link) ForeignKey() string {
	return l.TargetKey
}

// LocalJoinKey is the join-table column referencing the viewing entity.
func (l *Link) LocalJoinKey() string {
	if l.Forward {
		return l.SourceJoinKey
	}
	return l.TargetJoinKey
}

// RelatedJoinKey is the join-table column referencing the related entity.
func (l *Link) RelatedJoinKey() string {
	if l.Forward {
		return l.TargetJoinKey
	}
	return l.SourceJoinKey
}
