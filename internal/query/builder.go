// Package query is a small composable SELECT builder. Every value travels as a
// bound parameter and every identifier is checked before it reaches SQL text.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"entity-api/internal/store"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var operators = map[string]string{
	"=":  "=",
	"!=": "!=",
	"<>": "!=",
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
}

// ValidIdent reports whether s is a plain or table-qualified SQL identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

type Order struct {
	Column string
	Desc   bool
}

type Builder struct {
	table   string
	alias   string
	columns []string
	conds   []condition
	orders  []Order
	with    []string
	limit   int
	offset  int
	err     error
}

// New starts a query against table.
func New(table string) *Builder {
	b := &Builder{table: table}
	b.check(table)
	return b
}

func (b *Builder) Table() string { return b.table }

// As names the table with an alias in SELECT and EXISTS statements, so a
// correlated subquery can reach an outer query on the same table.
func (b *Builder) As(alias string) *Builder {
	if b.check(alias) {
		b.alias = alias
	}
	return b
}

func (b *Builder) from() string {
	if b.alias == "" {
		return b.table
	}
	return b.table + " AS " + b.alias
}

// Err returns the first invalid identifier or operator recorded while building.
func (b *Builder) Err() error { return b.err }

func (b *Builder) check(idents ...string) bool {
	for _, id := range idents {
		if !ValidIdent(id) {
			if b.err == nil {
				b.err = fmt.Errorf("invalid identifier %q", id)
			}
			return false
		}
	}
	return true
}

// Select sets the selected columns. Without it the query selects every column.
func (b *Builder) Select(cols ...string) *Builder {
	if b.check(cols...) {
		b.columns = append([]string(nil), cols...)
	}
	return b
}

// Where adds "col op ?".
func (b *Builder) Where(col, op string, v any) *Builder {
	sqlOp, ok := operators[op]
	if !ok {
		if b.err == nil {
			b.err = fmt.Errorf("unsupported operator %q", op)
		}
		return b
	}
	if b.check(col) {
		b.conds = append(b.conds, compare{col: col, op: sqlOp, val: v})
	}
	return b
}

func (b *Builder) WhereIn(col string, vals []any) *Builder {
	if b.check(col) {
		b.conds = append(b.conds, in{col: col, vals: vals})
	}
	return b
}

func (b *Builder) WhereNotIn(col string, vals []any) *Builder {
	if b.check(col) {
		b.conds = append(b.conds, in{col: col, vals: vals, not: true})
	}
	return b
}

func (b *Builder) WhereNull(col string) *Builder {
	if b.check(col) {
		b.conds = append(b.conds, null{col: col})
	}
	return b
}

func (b *Builder) WhereNotNull(col string) *Builder {
	if b.check(col) {
		b.conds = append(b.conds, null{col: col, not: true})
	}
	return b
}

// WhereColumn compares two columns, typically correlating a subquery with its outer table.
func (b *Builder) WhereColumn(left, right string) *Builder {
	if b.check(left, right) {
		b.conds = append(b.conds, columnEq{left: left, right: right})
	}
	return b
}

func (b *Builder) WhereExists(sub *Builder) *Builder {
	b.adopt(sub)
	b.conds = append(b.conds, exists{sub: sub})
	return b
}

func (b *Builder) WhereNotExists(sub *Builder) *Builder {
	b.adopt(sub)
	b.conds = append(b.conds, exists{sub: sub, not: true})
	return b
}

// WhereLowerLike adds a case-insensitive LIKE; pattern carries its own wildcards.
func (b *Builder) WhereLowerLike(col, pattern string) *Builder {
	if b.check(col) {
		b.conds = append(b.conds, lowerLike{col: col, pattern: pattern})
	}
	return b
}

// OrWhere adds a parenthesized group whose conditions are OR-ed together.
// An empty group adds nothing.
func (b *Builder) OrWhere(fn func(g *Builder)) *Builder {
	g := &Builder{table: b.table}
	fn(g)
	b.adopt(g)
	if len(g.conds) > 0 {
		b.conds = append(b.conds, group{conds: g.conds, or: true})
	}
	return b
}

// WhereGroup adds the conditions of g as one parenthesized AND group.
// Combined with OrWhere it expresses (a AND b) OR (c AND d).
func (b *Builder) WhereGroup(g *Builder) *Builder {
	b.adopt(g)
	if len(g.conds) > 0 {
		b.conds = append(b.conds, group{conds: g.conds})
	}
	return b
}

func (b *Builder) adopt(sub *Builder) {
	if sub.err != nil && b.err == nil {
		b.err = sub.err
	}
}

// HasConditions reports whether any WHERE condition was added.
func (b *Builder) HasConditions() bool { return len(b.conds) > 0 }

// Conditions returns the number of top-level WHERE conditions.
func (b *Builder) Conditions() int { return len(b.conds) }

func (b *Builder) OrderBy(col string, desc bool) *Builder {
	if b.check(col) {
		b.orders = append(b.orders, Order{Column: col, Desc: desc})
	}
	return b
}

// Orders returns the ORDER BY list.
func (b *Builder) Orders() []Order {
	return append([]Order(nil), b.orders...)
}

// IsOrderedBy reports whether col already appears in ORDER BY.
func (b *Builder) IsOrderedBy(col string) bool {
	for _, o := range b.orders {
		if o.Column == col {
			return true
		}
	}
	return false
}

// With schedules relations for eager loading; the builder only records them.
func (b *Builder) With(relations ...string) *Builder {
	for _, r := range relations {
		if !b.Eager(r) {
			b.with = append(b.with, r)
		}
	}
	return b
}

// Eager reports whether relation is scheduled for eager loading.
func (b *Builder) Eager(relation string) bool {
	for _, w := range b.with {
		if w == relation {
			return true
		}
	}
	return false
}

// EagerLoads returns the relations scheduled for eager loading.
func (b *Builder) EagerLoads() []string {
	return append([]string(nil), b.with...)
}

func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// ForPage sets LIMIT/OFFSET for a 1-based page.
func (b *Builder) ForPage(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Limit(perPage).Offset((page - 1) * perPage)
}

// Clone returns an independent copy; nested subqueries are shared read-only.
func (b *Builder) Clone() *Builder {
	c := *b
	c.columns = append([]string(nil), b.columns...)
	c.conds = append([]condition(nil), b.conds...)
	c.orders = append([]Order(nil), b.orders...)
	c.with = append([]string(nil), b.with...)
	return &c
}

// ToSQL renders the SELECT statement.
func (b *Builder) ToSQL(d store.Dialect) (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	pb := d.NewParamBuilder()
	var sb strings.Builder
	sb.WriteString(b.selectSQL(d, pb))

	if len(b.orders) > 0 {
		parts := make([]string, len(b.orders))
		for i, o := range b.orders {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = o.Column + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
		if b.offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", b.offset)
		}
	}
	return sb.String(), pb.Params(), nil
}

// CountSQL renders "SELECT COUNT(*)" with the same WHERE clause, ignoring order and paging.
func (b *Builder) CountSQL(d store.Dialect) (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	pb := d.NewParamBuilder()
	sql := "SELECT COUNT(*) FROM " + b.from() + b.whereSQL(d, pb)
	return sql, pb.Params(), nil
}

// DeleteSQL renders a DELETE with the same WHERE clause.
func (b *Builder) DeleteSQL(d store.Dialect) (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	pb := d.NewParamBuilder()
	sql := "DELETE FROM " + b.table + b.whereSQL(d, pb)
	return sql, pb.Params(), nil
}

// UpdateSQL renders an UPDATE of the given columns with the same WHERE clause.
func (b *Builder) UpdateSQL(d store.Dialect, cols []string, vals []any) (string, []any, error) {
	if len(cols) != len(vals) || len(cols) == 0 {
		return "", nil, fmt.Errorf("update needs matching columns and values")
	}
	if !b.check(cols...) || b.err != nil {
		return "", nil, b.err
	}
	pb := d.NewParamBuilder()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = " + pb.Add(vals[i])
	}
	sql := "UPDATE " + b.table + " SET " + strings.Join(sets, ", ") + b.whereSQL(d, pb)
	return sql, pb.Params(), nil
}

func (b *Builder) selectSQL(d store.Dialect, pb store.ParamBuilder) string {
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}
	return "SELECT " + cols + " FROM " + b.from() + b.whereSQL(d, pb)
}

func (b *Builder) whereSQL(d store.Dialect, pb store.ParamBuilder) string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + joinConds(b.conds, " AND ", d, pb)
}

func joinConds(conds []condition, sep string, d store.Dialect, pb store.ParamBuilder) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.sql(d, pb)
	}
	return strings.Join(parts, sep)
}
