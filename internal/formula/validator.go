package formula

import (
	"fmt"
	"sort"
	"strings"
)

// Validator statically checks formulas against the allow-list grammar and a
// Context of registered variables and constants.
type Validator struct {
	ctx Context
}

// NewValidator creates a validator bound to an evaluation context.
func NewValidator(ctx Context) *Validator {
	return &Validator{ctx: ctx}
}

// Validate reports whether the formula is acceptable. An empty or
// whitespace-only formula is valid and means "no formula". The second return
// value carries the reason for a rejection.
func (v *Validator) Validate(input string) (bool, string) {
	if strings.TrimSpace(input) == "" {
		return true, ""
	}

	node, err := Parse(input)
	if err != nil {
		return false, err.Error()
	}

	if err := v.validateNode(node); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (v *Validator) validateNode(node Node) error {
	switch n := node.(type) {
	case *LiteralNode:
		return nil

	case *NameNode:
		// Aggregate names used bare would be ambiguous with variables.
		if IsAggregate(n.Name()) {
			return fmt.Errorf("aggregate function %q used as a bare identifier", n.Name())
		}
		if IsSimpleMath(n.Name()) || IsSpatial(n.Name()) {
			return fmt.Errorf("function %q used as a bare identifier", n.Name())
		}
		if v.ctx.HasVariable(n.Name()) || v.ctx.HasConstant(n.Name()) {
			return nil
		}
		return fmt.Errorf("unknown identifier %q", n.Name())

	case *UnaryNode:
		return v.validateNode(n.Operand())

	case *BinaryNode:
		if err := v.validateNode(n.Left()); err != nil {
			return err
		}
		return v.validateNode(n.Right())

	case *CallNode:
		switch {
		case IsSimpleMath(n.Name()), IsSpatial(n.Name()):
			for _, arg := range n.Args() {
				if err := v.validateNode(arg); err != nil {
					return err
				}
			}
			return nil
		case IsAggregate(n.Name()):
			if len(n.Args()) != 1 {
				return fmt.Errorf("aggregate %q expects exactly 1 argument, got %d", n.Name(), len(n.Args()))
			}
			return v.validateNode(n.Args()[0])
		default:
			return fmt.Errorf("call to disallowed function %q", n.Name())
		}

	default:
		return fmt.Errorf("disallowed construct %T", node)
	}
}

// UsedVariables returns the registered data-column identifiers appearing as
// bare names anywhere in the formula, in sorted order. Unparseable formulas
// yield no variables.
func (v *Validator) UsedVariables(input string) []string {
	node, err := Parse(input)
	if err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	Walk(node, func(n Node) bool {
		if name, ok := n.(*NameNode); ok && v.ctx.HasVariable(name.Name()) {
			seen[name.Name()] = struct{}{}
		}
		return true
	})

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
