package stats

import (
	"fmt"
	"strings"

	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/formula"
)

// globalAggregates are the reductions allowed at the top of a custom
// definition.
var globalAggregates = map[string]bool{
	"mean": true,
	"sum":  true,
	"std":  true,
	"var":  true,
}

// Definition is one parsed custom-constant definition of the form
// "name = aggregate(expression)".
type Definition struct {
	Name      string
	Aggregate string
	Expr      formula.Node
	Raw       string
	Spatial   bool
}

// ExprText returns the inner expression in parseable rendered form.
func (d *Definition) ExprText() string {
	return d.Expr.String()
}

// ParseDefinition parses "name = aggregate(expression)". The expression is
// parsed but not validated against any variable set.
func ParseDefinition(input string) (*Definition, error) {
	left, right, found := strings.Cut(input, "=")
	if !found {
		return nil, errors.NewValidationError("ParseDefinition", input,
			`definition must have the form "name = aggregate(expression)"`)
	}

	name := strings.TrimSpace(left)
	if !isIdentifier(name) {
		return nil, errors.NewValidationError("ParseDefinition", input,
			fmt.Sprintf("%q is not a valid constant name", name))
	}

	node, err := formula.Parse(right)
	if err != nil {
		return nil, err
	}
	call, ok := node.(*formula.CallNode)
	if !ok || !globalAggregates[call.Name()] {
		return nil, errors.NewValidationError("ParseDefinition", input,
			"right-hand side must be a single mean, sum, std or var call")
	}
	if len(call.Args()) != 1 {
		return nil, errors.NewArityError("ParseDefinition", call.Name(), 1, len(call.Args()))
	}

	expr := call.Args()[0]
	return &Definition{
		Name:      name,
		Aggregate: call.Name(),
		Expr:      expr,
		Raw:       strings.TrimSpace(input),
		Spatial:   formula.HasSpatialOps(expr),
	}, nil
}

// ValidateDefinitions parses and validates a batch. Names must be fresh with
// respect to the context and to each other; each expression must validate
// against the context extended with the names defined before it. The first
// problem fails the whole batch.
func ValidateDefinitions(baseCtx formula.Context, inputs []string) ([]*Definition, error) {
	defs := make([]*Definition, 0, len(inputs))
	scope := baseCtx

	for _, input := range inputs {
		def, err := ParseDefinition(input)
		if err != nil {
			return nil, err
		}

		if err := checkNameFresh(scope, def.Name, input); err != nil {
			return nil, err
		}

		validator := formula.NewValidator(scope)
		if ok, msg := validator.Validate(def.ExprText()); !ok {
			return nil, errors.NewValidationError("ValidateDefinitions", input, msg)
		}

		defs = append(defs, def)
		// Thread the new name through so later definitions can use it.
		scope = scope.WithConstants(map[string]float64{def.Name: 0})
	}
	return defs, nil
}

func checkNameFresh(scope formula.Context, name, input string) error {
	switch {
	case scope.HasVariable(name):
		return errors.NewValidationError("ValidateDefinitions", input,
			fmt.Sprintf("%q collides with a dataset variable", name))
	case scope.HasConstant(name):
		return errors.NewValidationError("ValidateDefinitions", input,
			fmt.Sprintf("%q collides with an existing constant", name))
	case formula.IsSimpleMath(name) || formula.IsAggregate(name) || formula.IsSpatial(name):
		return errors.NewValidationError("ValidateDefinitions", input,
			fmt.Sprintf("%q collides with a function name", name))
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
