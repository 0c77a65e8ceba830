package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"entity-api/internal/config"
)

var testPaging = config.PaginationConfig{DefaultPerPage: 20, MaxPerPage: 50}

func TestParseParamsDefaults(t *testing.T) {
	p := ParseParams("", testPaging)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Empty(t, p.Filters)
	assert.Empty(t, p.Sort)
}

func TestParseParamsPaging(t *testing.T) {
	assert.Equal(t, 50, ParseParams("limit=500", testPaging).PerPage)
	assert.Equal(t, 1, ParseParams("limit=0", testPaging).PerPage)
	assert.Equal(t, 7, ParseParams("per_page=7", testPaging).PerPage)
	assert.Equal(t, 1, ParseParams("page=-2", testPaging).Page)
	assert.Equal(t, 3, ParseParams("page=3", testPaging).Page)
	assert.Equal(t, 20, ParseParams("limit=abc", testPaging).PerPage)
}

func TestParseParamsFilters(t *testing.T) {
	p := ParseParams("filters[!author]=&filters[tags][]=1&filters[tags][]=2&filters[%3Eviews]=5&filters[]=slug&filters[empty][]=", testPaging)

	assert.Equal(t, []Filter{
		{Key: "!author"},
		{Key: "tags", Values: []string{"1", "2"}, List: true},
		{Key: ">views", Values: []string{"5"}},
		{Key: "slug"},
		{Key: "empty", List: true},
	}, p.Filters)
	assert.False(t, p.Filters[0].Present())
	assert.True(t, p.Filters[4].Present())
}

func TestParseParamsScopes(t *testing.T) {
	p := ParseParams("scopes[recent]&scopes[between]=1,5&scopes[]=mine&scopes[tagged][]=a&scopes[tagged][]=b", testPaging)

	assert.Equal(t, []Scope{
		{Name: "recent"},
		{Name: "between", Params: []string{"1", "5"}},
		{Name: "mine"},
		{Name: "tagged", Params: []string{"a", "b"}},
	}, p.Scopes)
}

func TestParseParamsSortKeepsOrder(t *testing.T) {
	p := ParseParams("sort[title]=desc&sort[id]=1&sort[]=views&sort[created_at]=0&search=%20hello%20", testPaging)

	assert.Equal(t, []SortKey{
		{Field: "title", Asc: false},
		{Field: "id", Asc: true},
		{Field: "views", Asc: true},
		{Field: "created_at", Asc: false},
	}, p.Sort)
	assert.Equal(t, "hello", p.Search)
}

func TestParseFilterKey(t *testing.T) {
	cases := []struct {
		key   string
		field string
		op    string
		not   bool
	}{
		{"views", "views", "=", false},
		{"!views", "views", "!=", true},
		{">views", "views", ">", false},
		{">~views", "views", ">=", false},
		{"<views", "views", "<", false},
		{"<~views", "views", "<=", false},
	}
	for _, c := range cases {
		field, op, not := parseFilterKey(c.key)
		assert.Equal(t, c.field, field, c.key)
		assert.Equal(t, c.op, op, c.key)
		assert.Equal(t, c.not, not, c.key)
	}
}
