package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"entity-api/internal/storage"
)

// FilesPrefix marks upload parts: files__cover carries the file for field cover.
const FilesPrefix = "files__"

// Input is a normalized write payload: typed values plus uploaded files by field.
type Input struct {
	Values map[string]any
	Files  map[string][]storage.File
	// MultiFile marks fields whose files were sent as files__name[].
	MultiFile map[string]bool
}

// NewInput wraps plain values.
func NewInput(values map[string]any) *Input {
	if values == nil {
		values = map[string]any{}
	}
	return &Input{Values: values, Files: map[string][]storage.File{}, MultiFile: map[string]bool{}}
}

// AddFile attaches an upload to field. multiple marks a files__name[] part.
func (in *Input) AddFile(field string, f storage.File, multiple bool) {
	if in.Files == nil {
		in.Files = map[string][]storage.File{}
	}
	if in.MultiFile == nil {
		in.MultiFile = map[string]bool{}
	}
	in.Files[field] = append(in.Files[field], f)
	if multiple {
		in.MultiFile[field] = true
	}
}

func (in *Input) Value(name string) (any, bool) {
	v, ok := in.Values[name]
	return v, ok
}

// List reads name as a key list: an array, or a comma separated string.
func (in *Input) List(name string) []any {
	return toList(in.Values[name])
}

// Present reports whether the request carried the key, as a value or as files.
func (in *Input) Present(name string) bool {
	if strings.HasPrefix(name, FilesPrefix) {
		return len(in.Files[strings.TrimPrefix(name, FilesPrefix)]) > 0
	}
	if _, ok := in.Values[name]; ok {
		return true
	}
	return len(in.Files[name]) > 0
}

// Keys lists the value keys and the files__ keys of uploads.
func (in *Input) Keys() []string {
	keys := make([]string, 0, len(in.Values)+len(in.Files))
	for k := range in.Values {
		keys = append(keys, k)
	}
	for k := range in.Files {
		keys = append(keys, FilesPrefix+k)
	}
	return keys
}

// isEmpty follows the request convention: absent, null, "" and [] are empty.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	}
	return false
}

// scalar unwraps json.Number into int64 or float64.
func scalar(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

// toList interprets a request value as a list of keys.
func toList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(val))
		for _, x := range val {
			if !isEmpty(x) {
				out = append(out, scalar(x))
			}
		}
		return out
	case []string:
		out := make([]any, 0, len(val))
		for _, x := range val {
			if x != "" {
				out = append(out, x)
			}
		}
		return out
	case string:
		if val == "" {
			return []any{}
		}
		var out []any
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []any{scalar(v)}
}

func parseInt(v any) (any, bool) {
	switch n := scalar(v).(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case bool:
		if n {
			return int64(1), true
		}
		return int64(0), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return nil, false
}

func parseFloat(v any) (any, bool) {
	switch n := scalar(v).(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", ".")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

// truthy converts a raw value to bool: "", "0", "false", "off", "no", 0 and null are false.
func truthy(v any) bool {
	switch val := scalar(v).(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		s := strings.TrimSpace(val)
		switch strings.ToLower(s) {
		case "", "off", "no":
			return false
		case "on", "yes":
			return true
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return true
	case []any:
		return len(val) > 0
	}
	return true
}
