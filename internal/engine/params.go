package engine

import (
	"net/url"
	"strconv"
	"strings"

	"entity-api/internal/config"
)

// Filter is one filters[...] entry. Key keeps its operator prefix.
type Filter struct {
	Key    string
	Values []string
	// List is set for filters[key][]=... even when every value was empty.
	List bool
}

// Present reports whether the filter carries a scalar or list value.
func (f Filter) Present() bool {
	return f.List || len(f.Values) > 0
}

type Scope struct {
	Name   string
	Params []string
}

type SortKey struct {
	Field string
	Asc   bool
}

// Params are the listing parameters of a request, in the order they were given.
type Params struct {
	Filters []Filter
	Scopes  []Scope
	Sort    []SortKey
	Search  string
	Page    int
	PerPage int
}

// ParseParams reads filters, scopes, sort, search and paging from a raw query string.
// Order matters for sort keys, so the string is scanned instead of decoded into url.Values.
func ParseParams(rawQuery string, pg config.PaginationConfig) *Params {
	p := &Params{Page: 1, PerPage: pg.DefaultPerPage}
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			continue
		}

		base, subs := splitBrackets(key)
		switch base {
		case "filters":
			p.addFilter(subs, val)
		case "scopes":
			p.addScope(subs, val)
		case "sort":
			p.addSort(subs, val)
		case "search":
			p.Search = strings.TrimSpace(val)
		case "page":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				p.Page = n
			}
		case "limit", "per_page":
			if n, err := strconv.Atoi(val); err == nil {
				p.PerPage = n
			}
		}
	}
	if p.PerPage < 1 {
		p.PerPage = 1
	}
	if pg.MaxPerPage > 0 && p.PerPage > pg.MaxPerPage {
		p.PerPage = pg.MaxPerPage
	}
	return p
}

// splitBrackets turns "filters[!author][]" into ("filters", ["!author", ""]).
func splitBrackets(key string) (string, []string) {
	i := strings.IndexByte(key, '[')
	if i < 0 {
		return key, nil
	}
	base, rest := key[:i], key[i:]
	var subs []string
	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		subs = append(subs, rest[1:end])
		rest = rest[end+1:]
	}
	return base, subs
}

func isIndex(s string) bool {
	if s == "" {
		return true
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func (p *Params) addFilter(subs []string, val string) {
	if len(subs) == 0 {
		return
	}
	// filters[]=field and filters[0]=field name a field without value.
	if isIndex(subs[0]) {
		if val != "" {
			p.filter(val)
		}
		return
	}
	f := p.filter(subs[0])
	if len(subs) > 1 {
		f.List = true
	}
	if val != "" {
		f.Values = append(f.Values, val)
	}
}

func (p *Params) filter(key string) *Filter {
	for i := range p.Filters {
		if p.Filters[i].Key == key {
			return &p.Filters[i]
		}
	}
	p.Filters = append(p.Filters, Filter{Key: key})
	return &p.Filters[len(p.Filters)-1]
}

func (p *Params) addScope(subs []string, val string) {
	if len(subs) == 0 {
		return
	}
	if isIndex(subs[0]) {
		if val != "" {
			p.scope(val)
		}
		return
	}
	s := p.scope(subs[0])
	switch {
	case len(subs) > 1:
		s.Params = append(s.Params, val)
	case val != "":
		s.Params = append(s.Params, strings.Split(val, ",")...)
	}
}

func (p *Params) scope(name string) *Scope {
	for i := range p.Scopes {
		if p.Scopes[i].Name == name {
			return &p.Scopes[i]
		}
	}
	p.Scopes = append(p.Scopes, Scope{Name: name})
	return &p.Scopes[len(p.Scopes)-1]
}

func (p *Params) addSort(subs []string, val string) {
	if len(subs) == 0 {
		return
	}
	if isIndex(subs[0]) {
		if val != "" {
			p.Sort = append(p.Sort, SortKey{Field: val, Asc: true})
		}
		return
	}
	p.Sort = append(p.Sort, SortKey{Field: subs[0], Asc: sortAscending(val)})
}

// sortAscending: "desc" and "0" are descending, anything else ascending.
func sortAscending(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "desc", "0":
		return false
	}
	return true
}
