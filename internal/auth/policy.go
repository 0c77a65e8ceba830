package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"entity-api/internal/engine"
	"entity-api/internal/metadata"
	"entity-api/internal/query"
)

// RolePolicy is the bundled authorize hook driven by the permissions of the registry.
// Admins bypass it. Otherwise the actor needs a role of a matching permission
// whose conditions hold for the record, when there is one.
type RolePolicy struct {
	reg      *metadata.Registry
	programs sync.Map // expression -> *vm.Program
}

func NewRolePolicy(reg *metadata.Registry) *RolePolicy {
	return &RolePolicy{reg: reg}
}

// readActions are also granted by a "read" permission.
var readActions = map[string]bool{"index": true, "item": true}

func (p *RolePolicy) Authorize(_ context.Context, actor *metadata.UserContext, ability string, entity *metadata.Entity, rec *engine.Record) (bool, error) {
	if actor == nil {
		return false, engine.UnauthorizedError("Authentication required")
	}
	if actor.IsAdmin() {
		return true, nil
	}

	for _, perm := range p.permissions(entity.Name, ability) {
		if !hasRoleIntersection(actor.Roles, perm.Roles) {
			continue
		}
		if len(perm.Conditions) == 0 || rec == nil {
			return true, nil
		}
		ok, err := p.evaluateConditions(perm.Conditions, rec.Attributes(), actor)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *RolePolicy) permissions(entity, ability string) []*metadata.Permission {
	perms := p.reg.GetPermissions(entity, ability)
	if readActions[ability] {
		perms = append(perms, p.reg.GetPermissions(entity, "read")...)
	}
	return perms
}

// ReadFilter scopes every listing to the rows the actor's index permissions
// allow. Like Authorize, one matching permission is enough: each one becomes
// an OR branch of its AND-ed conditions, and a permission without row
// conditions lifts the filter entirely. Admins are not filtered.
func (p *RolePolicy) ReadFilter() engine.QueryModifier {
	return engine.QueryModifierFunc(func(_ context.Context, q *query.Builder, qc *engine.QueryContext) error {
		actor := qc.Actor
		if actor == nil || actor.IsAdmin() {
			return nil
		}
		var branches []*query.Builder
		for _, perm := range p.permissions(qc.Entity.Name, "index") {
			if !hasRoleIntersection(actor.Roles, perm.Roles) {
				continue
			}
			branch := query.New(qc.Entity.Table)
			for _, cond := range perm.Conditions {
				if err := applyCondition(branch, qc.Entity, cond); err != nil {
					return err
				}
			}
			if err := branch.Err(); err != nil {
				return err
			}
			if !branch.HasConditions() {
				return nil
			}
			branches = append(branches, branch)
		}
		if len(branches) == 0 {
			return nil
		}
		q.OrWhere(func(g *query.Builder) {
			for _, b := range branches {
				g.WhereGroup(b)
			}
		})
		return nil
	})
}

var sqlOperators = map[string]string{"eq": "=", "neq": "!=", "gt": ">", "gte": ">=", "lt": "<", "lte": "<="}

func applyCondition(q *query.Builder, e *metadata.Entity, cond metadata.PermissionCondition) error {
	if cond.Operator == "expr" {
		// evaluated per record only
		return nil
	}
	if !e.HasField(cond.Field) {
		return fmt.Errorf("permission condition on unknown field %s.%s", e.Name, cond.Field)
	}
	switch cond.Operator {
	case "in":
		q.WhereIn(cond.Field, listValue(cond.Value))
	case "not_in":
		q.WhereNotIn(cond.Field, listValue(cond.Value))
	default:
		op, ok := sqlOperators[cond.Operator]
		if !ok {
			return fmt.Errorf("unknown permission operator %q", cond.Operator)
		}
		q.Where(cond.Field, op, cond.Value)
	}
	return nil
}

func hasRoleIntersection(userRoles, policyRoles []string) bool {
	for _, ur := range userRoles {
		for _, pr := range policyRoles {
			if strings.EqualFold(ur, pr) {
				return true
			}
		}
	}
	return false
}

func (p *RolePolicy) evaluateConditions(conditions []metadata.PermissionCondition, record map[string]any, actor *metadata.UserContext) (bool, error) {
	for _, cond := range conditions {
		if cond.Operator == "expr" {
			ok, err := p.evalExpr(fmt.Sprint(cond.Value), record, actor)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		val, ok := record[cond.Field]
		if !ok || !evaluateCondition(cond.Operator, val, cond.Value) {
			return false, nil
		}
	}
	return true, nil
}

// evalExpr runs a boolean expression over {record, actor}.
func (p *RolePolicy) evalExpr(expression string, record map[string]any, actor *metadata.UserContext) (bool, error) {
	var program *vm.Program
	if cached, ok := p.programs.Load(expression); ok {
		program = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(expression, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile permission condition: %w", err)
		}
		p.programs.Store(expression, compiled)
		program = compiled
	}
	out, err := expr.Run(program, map[string]any{
		"record": record,
		"actor":  map[string]any{"id": actor.ID, "roles": actor.Roles},
	})
	if err != nil {
		return false, fmt.Errorf("run permission condition %q: %w", expression, err)
	}
	b, _ := out.(bool)
	return b, nil
}

func evaluateCondition(operator string, recordVal, condVal any) bool {
	switch operator {
	case "eq":
		return fmt.Sprintf("%v", recordVal) == fmt.Sprintf("%v", condVal)
	case "neq":
		return fmt.Sprintf("%v", recordVal) != fmt.Sprintf("%v", condVal)
	case "in":
		return valueInList(recordVal, condVal)
	case "not_in":
		return !valueInList(recordVal, condVal)
	case "gt":
		return compareNumeric(recordVal, condVal) > 0
	case "gte":
		return compareNumeric(recordVal, condVal) >= 0
	case "lt":
		return compareNumeric(recordVal, condVal) < 0
	case "lte":
		return compareNumeric(recordVal, condVal) <= 0
	default:
		return false
	}
}

func listValue(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func valueInList(val, list any) bool {
	valStr := fmt.Sprintf("%v", val)
	for _, item := range listValue(list) {
		if fmt.Sprintf("%v", item) == valStr {
			return true
		}
	}
	return false
}

func compareNumeric(a, b any) int {
	fa := toFloat(a)
	fb := toFloat(b)
	if fa < fb {
		return -1
	}
	if fa > fb {
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		var f float64
		fmt.Sscanf(fmt.Sprintf("%v", v), "%f", &f)
		return f
	}
}
