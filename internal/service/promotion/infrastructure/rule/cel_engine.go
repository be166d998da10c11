// internal/service/promotion/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"emporia/internal/service/promotion/domain"

	"github.com/google/cel-go/cel"
)

// CELRuleEngine 是 domain.RuleEngine 接口的一个具体实现。
// 它把 google/cel-go 表达式引擎适配到我们自己的领域接口，
// 运营后台配置的资格规则就是一段 CEL 表达式，
// 例如 "cartTotal >= 100.0 && itemCount <= 5"。
type CELRuleEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program // 按规则文本缓存编译结果
}

// NewCELRuleEngine 创建规则引擎实例并声明求值环境里可用的变量。
func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("cartTotal", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &CELRuleEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 实现了 domain.RuleEngine 接口。
// 规则必须求值为布尔；任何编译或求值错误都由调用方按"不可用"处理。
func (e *CELRuleEngine) Evaluate(ruleText string, fact domain.Fact) (bool, error) {
	prg, err := e.program(ruleText)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"cartTotal": fact.CartTotal,
		"itemCount": fact.ItemCount,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate rule: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not evaluate to a boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *CELRuleEngine) program(ruleText string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[ruleText]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(ruleText)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}

	e.mu.Lock()
	e.programs[ruleText] = prg
	e.mu.Unlock()
	return prg, nil
}
