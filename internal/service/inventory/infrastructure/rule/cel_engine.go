// internal/service/inventory/infrastructure/rule/cel_engine.go
package rule

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"stockpile/internal/service/inventory/domain"
)

// PolicyDef 是一条待编译的策略：Name 用于拒绝时的错误提示，
// Expression 是一段返回布尔值的 CEL 表达式。
type PolicyDef struct {
	Name       string
	Expression string
}

// CELPolicyEngine 是 domain.ReservationPolicy 的 CEL 实现。
// 这是一个典型的适配器：把通用表达式引擎适配到我们自己的领域接口，
// 运营可以在配置里改规则而不用改代码。
type CELPolicyEngine struct {
	programs []compiledPolicy
}

type compiledPolicy struct {
	name    string
	program cel.Program
}

var _ domain.ReservationPolicy = (*CELPolicyEngine)(nil)

// NewCELPolicyEngine 编译全部策略表达式。
// 表达式可见的变量: quantity / cart_lines / unit_price。
// 任何一条编译失败都让构造失败——坏规则宁可挡在启动期。
func NewCELPolicyEngine(policies []PolicyDef) (*CELPolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("quantity", cel.IntType),
		cel.Variable("cart_lines", cel.IntType),
		cel.Variable("unit_price", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	engine := &CELPolicyEngine{}
	for _, p := range policies {
		ast, iss := env.Compile(p.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "failed to compile policy %q", p.Name)
		}
		if ast.OutputType() != cel.BoolType {
			return nil, errors.Errorf("policy %q must evaluate to a boolean, got %s", p.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build program for policy %q", p.Name)
		}
		engine.programs = append(engine.programs, compiledPolicy{name: p.Name, program: program})
	}
	return engine, nil
}

// Evaluate 依次执行所有策略，第一条返回 false 的策略导致拒绝
func (e *CELPolicyEngine) Evaluate(_ context.Context, fact domain.PolicyFact) error {
	if len(e.programs) == 0 {
		return nil
	}
	activation := map[string]interface{}{
		"quantity":   int64(fact.Quantity),
		"cart_lines": int64(fact.CartLines),
		"unit_price": fact.UnitPrice,
	}
	for _, p := range e.programs {
		out, _, err := p.program.Eval(activation)
		if err != nil {
			return errors.Wrapf(err, "failed to evaluate policy %q", p.name)
		}
		if out.Value() != true {
			return &domain.PolicyViolationError{Policy: p.name}
		}
	}
	return nil
}
