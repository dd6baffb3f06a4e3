package abac

import (
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"reflex-engine/internal/pkg/logger"
	pkgErrors "reflex-engine/pkg/errors"
)

// Policy result values.
const (
	ResultPass = "pass"
	ResultFail = "fail"
)

// Policy is one compiled access rule, scoped to a single target object and
// action by the scope index it was loaded from.
type Policy struct {
	ID        int64
	Name      string
	Expr      string
	Action    string
	Result    string
	Order     int
	UpdatedAt int64

	prog *vm.Program
}

// PolicySet holds the policies relevant to one object, keyed by action.
type PolicySet map[string][]*Policy

// Compile parses and compiles a policy expression against the closed
// attribute namespace. The returned error is safe to surface to callers.
func Compile(src string) (*vm.Program, error) {
	if src == "" {
		return nil, pkgErrors.InvalidParameter("policy expression is empty")
	}
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, pkgErrors.InvalidParameter("cannot compile policy: " + err.Error())
	}
	return prog, nil
}

// NewPolicy compiles src and wraps it for evaluation.
func NewPolicy(id int64, name, src, action, result string, order int, updatedAt int64) (*Policy, error) {
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return &Policy{
		ID:        id,
		Name:      name,
		Expr:      src,
		Action:    action,
		Result:    result,
		Order:     order,
		UpdatedAt: updatedAt,
		prog:      prog,
	}, nil
}

// Eval runs the compiled expression. Any evaluation error means the policy
// does not match.
func (p *Policy) Eval(env map[string]interface{}) (bool, error) {
	out, err := expr.Run(p.prog, env)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return out != nil, nil
	}
	return matched, nil
}

// Sort orders each action bucket ascending by (order, updated_at) so
// evaluation is deterministic.
func (s PolicySet) Sort() {
	for _, bucket := range s {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Order != bucket[j].Order {
				return bucket[i].Order < bucket[j].Order
			}
			return bucket[i].UpdatedAt < bucket[j].UpdatedAt
		})
	}
}

// Allowed runs the decision procedure for one action against the set. A
// pass policy that evaluates true authorizes; a fail policy that evaluates
// true denies and stops evaluation. Admin policies cover read and write.
// Evaluation errors are logged and count as no match.
func (s PolicySet) Allowed(action string, env map[string]interface{}) bool {
	actions := []string{action}
	if action != ActionAdmin {
		actions = append(actions, ActionAdmin)
	}
	for _, act := range actions {
		for _, p := range s[act] {
			matched, err := p.Eval(env)
			if err != nil {
				logger.Warn("policy evaluation failed",
					zap.Int64("policy", p.ID),
					zap.String("name", p.Name),
					zap.Error(err))
				continue
			}
			if !matched {
				continue
			}
			if p.Result == ResultFail {
				return false
			}
			return true
		}
	}
	return false
}

// MatchesScope evaluates a policyscope match expression against an object.
// Errors mean no match.
func MatchesScope(prog *vm.Program, objType string, obj map[string]interface{}, groups map[string][]string) bool {
	out, err := expr.Run(prog, MatchEnv(objType, obj, groups))
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	if !ok {
		return out != nil
	}
	return matched
}
