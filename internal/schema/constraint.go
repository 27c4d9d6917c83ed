package schema

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Constraint is a server-enforced rule over a resource's attributes, written
// as a CEL expression that must evaluate to true. The expression sees:
//
//	attrs          map(string, dyn)  attributes after the update
//	id             string
//	resource_type  string
type Constraint struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`

	program cel.Program
}

// Violation is returned when a constraint evaluates to false
type Violation struct {
	Constraint string
	Message    string
}

func (v *Violation) Error() string {
	if v.Message != "" {
		return fmt.Sprintf("constraint %s violated: %s", v.Constraint, v.Message)
	}
	return fmt.Sprintf("constraint %s violated", v.Constraint)
}

func newConstraintEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
		cel.Variable("resource_type", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create constraint environment: %w", err)
	}
	return env, nil
}

func (c *Constraint) compile(env *cel.Env) error {
	ast, iss := env.Compile(c.Expr)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("constraint %s: %w", c.Name, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("constraint %s: %w", c.Name, err)
	}
	c.program = prg
	return nil
}

// Check evaluates every constraint of the type against the attributes a
// resource would have after an update. It returns a *Violation for the first
// constraint that does not hold.
func (t *ResourceType) Check(id string, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	vars := map[string]any{
		"attrs":         attrs,
		"id":            id,
		"resource_type": t.Name,
	}
	for _, c := range t.Constraints {
		out, _, err := c.program.Eval(vars)
		if err != nil {
			// an expression that cannot be evaluated against this resource
			// (e.g. size() of a number) does not hold
			return &Violation{Constraint: c.Name, Message: fmt.Sprintf("%s (%v)", c.Message, err)}
		}
		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			return &Violation{Constraint: c.Name, Message: c.Message}
		}
	}
	return nil
}
