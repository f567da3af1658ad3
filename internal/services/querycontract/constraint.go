package querycontract

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// constraint is a compiled CEL predicate over the parameter bundle, exposed as `params`
type constraint struct {
	expr    string
	program cel.Program
}

var constraintEnv = mustConstraintEnv()

func mustConstraintEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}

func compileConstraint(expr string) (*constraint, error) {
	ast, issues := constraintEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("constraint %q must return boolean, got: %s", expr, ast.OutputType())
	}
	program, err := constraintEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &constraint{expr: expr, program: program}, nil
}

func (c *constraint) check(params map[string]interface{}) error {
	out, _, err := c.program.Eval(map[string]interface{}{"params": params})
	if err != nil {
		return fmt.Errorf("constraint %q: %w", c.expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fmt.Errorf("constraint %q did not evaluate to boolean, got: %T", c.expr, out.Value())
	}
	if !ok {
		return fmt.Errorf("constraint %q not satisfied", c.expr)
	}
	return nil
}
