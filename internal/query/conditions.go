package query

import (
	"fmt"

	"entity-api/internal/store"
)

type condition interface {
	sql(d store.Dialect, pb store.ParamBuilder) string
}

type compare struct {
	col string
	op  string
	val any
}

func (c compare) sql(_ store.Dialect, pb store.ParamBuilder) string {
	return fmt.Sprintf("%s %s %s", c.col, c.op, pb.Add(c.val))
}

type in struct {
	col  string
	vals []any
	not  bool
}

func (c in) sql(d store.Dialect, pb store.ParamBuilder) string {
	if c.not {
		return d.NotInExpr(c.col, pb, c.vals)
	}
	return d.InExpr(c.col, pb, c.vals)
}

type null struct {
	col string
	not bool
}

func (c null) sql(_ store.Dialect, _ store.ParamBuilder) string {
	if c.not {
		return c.col + " IS NOT NULL"
	}
	return c.col + " IS NULL"
}

type columnEq struct {
	left, right string
}

func (c columnEq) sql(_ store.Dialect, _ store.ParamBuilder) string {
	return c.left + " = " + c.right
}

type exists struct {
	sub *Builder
	not bool
}

func (c exists) sql(d store.Dialect, pb store.ParamBuilder) string {
	inner := "SELECT 1 FROM " + c.sub.from() + c.sub.whereSQL(d, pb)
	if c.not {
		return "NOT EXISTS (" + inner + ")"
	}
	return "EXISTS (" + inner + ")"
}

type lowerLike struct {
	col     string
	pattern string
}

func (c lowerLike) sql(d store.Dialect, pb store.ParamBuilder) string {
	return d.LowerLikeExpr(c.col, pb, c.pattern)
}

type group struct {
	conds []condition
	or    bool
}

func (c group) sql(d store.Dialect, pb store.ParamBuilder) string {
	sep := " AND "
	if c.or {
		sep = " OR "
	}
	return "(" + joinConds(c.conds, sep, d, pb) + ")"
}
