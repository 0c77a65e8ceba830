package engine

// Changes is the change record of one write: attribute entries are
// [old, new] pairs, to-many relation entries are *RelationChange.
type Changes map[string]any

// RelationChange lists the related keys a sync attached, detached or
// whose pivot data it updated.
type RelationChange struct {
	Attached []any `json:"attached"`
	Detached []any `json:"detached"`
	Updated  []any `json:"updated"`
}

// Empty reports whether the sync had no effect.
func (rc *RelationChange) Empty() bool {
	return rc == nil || len(rc.Attached) == 0 && len(rc.Detached) == 0 && len(rc.Updated) == 0
}

// maskedChange replaces password values in a change record.
var maskedChange = []any{"******", "******"}
