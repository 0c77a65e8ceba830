package metadata

import "strconv"

// Field is one persisted attribute of an entity.
type Field struct {
	Name      string   `json:"name" yaml:"name"`
	Type      string   `json:"type" yaml:"type"`
	Cast      string   `json:"cast,omitempty" yaml:"cast"`
	Required  bool     `json:"required,omitempty" yaml:"required"`
	Unique    bool     `json:"unique,omitempty" yaml:"unique"`
	Default   any      `json:"default,omitempty" yaml:"default"`
	Nullable  bool     `json:"nullable,omitempty" yaml:"nullable"`
	Enum      []string `json:"enum,omitempty" yaml:"enum"`
	Precision int      `json:"precision,omitempty" yaml:"precision"`
	Auto      string   `json:"auto,omitempty" yaml:"auto"` // "create" or "update"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// IsDate returns true for timestamp and date columns.
func (f Field) IsDate() bool {
	switch f.Type {
	case "timestamp", "date", "datetime":
		return true
	}
	return false
}

// IsNumeric returns true for integer and floating point columns.
func (f Field) IsNumeric() bool {
	switch f.Type {
	case "int", "integer", "bigint", "float", "decimal":
		return true
	}
	return false
}

// Coerce converts a request-side scalar (usually a string) into the column's Go type.
// Values that cannot be parsed are returned unchanged with ok=false.
func (f Field) Coerce(v any) (any, bool) {
	s, isString := v.(string)
	switch f.Type {
	case "int", "integer", "bigint":
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case float64:
			if n == float64(int64(n)) {
				return int64(n), true
			}
			return v, false
		}
		if isString {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
		}
		return v, false
	case "float", "decimal":
		switch n := v.(type) {
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		}
		if isString {
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n, true
			}
		}
		return v, false
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, true
		case int64:
			return b != 0, true
		case float64:
			return b != 0, true
		}
		if isString {
			if b, err := strconv.ParseBool(s); err == nil {
				return b, true
			}
		}
		return v, false
	}
	return v, true
}
