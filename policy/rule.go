package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// Rule is a compiled CEL condition an accepted proposal must also satisfy.
// Available variables: action_type, asset_id, currency, justification
// (string) and amount, cumulative_spent (double).
type Rule struct {
	expr    string
	program cel.Program
}

// RuleInput is the data a rule is evaluated against.
type RuleInput struct {
	ActionType      string
	AssetID         string
	Currency        string
	Justification   string
	Amount          decimal.Decimal
	CumulativeSpent decimal.Decimal
}

var newRuleEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("asset_id", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("justification", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("cumulative_spent", cel.DoubleType),
	)
}

var ruleProgramCache sync.Map

// CompileRule parses and type-checks expr. The expression must be boolean.
func CompileRule(expr string) (*Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("rule expression required")
	}
	if cached, ok := ruleProgramCache.Load(expr); ok {
		return &Rule{expr: expr, program: cached.(cel.Program)}, nil
	}

	env, err := newRuleEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program rule %q: %w", expr, err)
	}
	ruleProgramCache.Store(expr, program)
	return &Rule{expr: expr, program: program}, nil
}

// Expr returns the source expression.
func (r *Rule) Expr() string {
	if r == nil {
		return ""
	}
	return r.expr
}

// Eval runs the rule. A nil rule always passes.
func (r *Rule) Eval(in RuleInput) (bool, error) {
	if r == nil {
		return true, nil
	}
	out, _, err := r.program.Eval(map[string]any{
		"action_type":      in.ActionType,
		"asset_id":         in.AssetID,
		"currency":         in.Currency,
		"justification":    in.Justification,
		"amount":           in.Amount.InexactFloat64(),
		"cumulative_spent": in.CumulativeSpent.InexactFloat64(),
	})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T", r.expr, out.Value())
	}
	return v, nil
}
