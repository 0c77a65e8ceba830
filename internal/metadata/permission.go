package metadata

// Permission grants an action on an entity to a set of roles.
type Permission struct {
	Entity     string                `json:"entity" yaml:"entity"`
	Action     string                `json:"action" yaml:"action"`
	Roles      []string              `json:"roles" yaml:"roles"`
	Conditions []PermissionCondition `json:"conditions,omitempty" yaml:"conditions"`
}

// PermissionCondition is a record-level condition for a permission policy.
type PermissionCondition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"` // eq, neq, in, not_in, gt, gte, lt, lte
	Value    any    `json:"value" yaml:"value"`
}
