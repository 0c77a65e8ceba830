package metadata

import "strings"

// Rule is one parsed validation rule, e.g. "max:255" -> {Name: "max", Args: ["255"]}.
type Rule struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Arg returns the i-th argument or an empty string.
func (r Rule) Arg(i int) string {
	if i < len(r.Args) {
		return r.Args[i]
	}
	return ""
}

// ParseRules splits a pipe-separated rule string. Arguments are comma-separated,
// except for regex and expr whose single argument is taken verbatim.
func ParseRules(spec string) []Rule {
	var rules []Rule
	for _, part := range splitRules(spec) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(part, ":")
		r := Rule{Name: strings.TrimSpace(name)}
		if hasArg {
			switch r.Name {
			case "regex", "expr":
				r.Args = []string{arg}
			default:
				r.Args = strings.Split(arg, ",")
			}
		}
		rules = append(rules, r)
	}
	return rules
}

// splitRules splits on "|" but keeps everything after a regex: or expr: prefix intact,
// since both may legitimately contain pipes.
func splitRules(spec string) []string {
	var parts []string
	for spec != "" {
		trimmed := strings.TrimSpace(spec)
		if strings.HasPrefix(trimmed, "regex:") || strings.HasPrefix(trimmed, "expr:") {
			return append(parts, trimmed)
		}
		head, rest, found := strings.Cut(spec, "|")
		parts = append(parts, head)
		if !found {
			break
		}
		spec = rest
	}
	return parts
}
