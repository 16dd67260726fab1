package formula

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/frame"
)

// Result is the outcome of a point-wise evaluation: either one scalar (for
// constant-only formulas) or a per-point vector aligned with the frame.
type Result struct {
	scalar float64
	values []float64
}

// ScalarResult wraps a constant evaluation outcome.
func ScalarResult(v float64) Result {
	return Result{scalar: v}
}

// VectorResult wraps a per-point evaluation outcome.
func VectorResult(values []float64) Result {
	return Result{values: values}
}

// IsScalar reports whether the result is a single constant.
func (r Result) IsScalar() bool {
	return r.values == nil
}

// Scalar returns the constant value. Meaningful only when IsScalar is true.
func (r Result) Scalar() float64 {
	return r.scalar
}

// Values returns the per-point vector, or nil for a scalar result.
func (r Result) Values() []float64 {
	return r.values
}

// Broadcast returns the result as a vector of length n, repeating a scalar.
func (r Result) Broadcast(n int) []float64 {
	if !r.IsScalar() {
		return r.values
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = r.scalar
	}
	return out
}

// Evaluator evaluates validated formulas point-wise against one frame. It
// holds an immutable Context snapshot; concurrent workers each construct
// their own Evaluator.
type Evaluator struct {
	ctx    Context
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over a context snapshot.
func NewEvaluator(ctx Context, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{ctx: ctx, logger: logger}
}

// Context returns the evaluator's context snapshot.
func (e *Evaluator) Context() Context {
	return e.ctx
}

// Evaluate computes a formula against one frame's point data. A formula that
// exactly matches a column name returns that column unchanged. Formulas
// containing spatial operators are rejected here; they require the gridded
// evaluator.
func (e *Evaluator) Evaluate(f *frame.Frame, input string) (Result, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Result{}, errors.NewEvaluationError("Evaluate", input, "empty formula")
	}

	// Fast path: the formula is exactly one column name.
	if f != nil {
		if values, ok := f.Values(trimmed); ok {
			return VectorResult(values), nil
		}
	}

	node, err := Parse(trimmed)
	if err != nil {
		return Result{}, err
	}

	if HasSpatialOps(node) {
		return Result{}, errors.NewEvaluationError("Evaluate", trimmed,
			"spatial operators cannot be evaluated point-wise; use the gridded evaluator")
	}

	return e.EvaluateNode(f, node)
}

// EvaluateNode evaluates a parsed tree against one frame. Aggregate subtrees
// are substituted with literal leaves first, then the residual tree is
// evaluated in one recursive walk over a closed scope.
func (e *Evaluator) EvaluateNode(f *frame.Frame, node Node) (Result, error) {
	substituted, err := e.SubstituteAggregates(f, node)
	if err != nil {
		return Result{}, err
	}
	return e.evalNode(f, substituted)
}

// SubstituteAggregates returns a tree in which every frame-aggregate call has
// been replaced by a literal leaf carrying its precomputed scalar. Inner
// aggregates are resolved before the aggregates enclosing them.
func (e *Evaluator) SubstituteAggregates(f *frame.Frame, node Node) (Node, error) {
	switch n := node.(type) {
	case *LiteralNode, *NameNode:
		return node, nil

	case *UnaryNode:
		operand, err := e.SubstituteAggregates(f, n.Operand())
		if err != nil {
			return nil, err
		}
		return Unary(n.Op(), operand), nil

	case *BinaryNode:
		left, err := e.SubstituteAggregates(f, n.Left())
		if err != nil {
			return nil, err
		}
		right, err := e.SubstituteAggregates(f, n.Right())
		if err != nil {
			return nil, err
		}
		return Binary(left, n.Op(), right), nil

	case *CallNode:
		args := make([]Node, len(n.Args()))
		for i, arg := range n.Args() {
			substituted, err := e.SubstituteAggregates(f, arg)
			if err != nil {
				return nil, err
			}
			args[i] = substituted
		}
		if !IsAggregate(n.Name()) {
			return Call(n.Name(), args...), nil
		}

		if len(args) != 1 {
			return nil, errors.NewArityError("Evaluate", n.Name(), 1, len(args))
		}
		inner, err := e.evalNode(f, args[0])
		if err != nil {
			return nil, err
		}

		values := inner.Values()
		if inner.IsScalar() {
			values = []float64{inner.Scalar()}
		}
		scalar, ok := Reduce(n.Name(), values)
		if !ok {
			return nil, errors.NewUnknownFunctionError("Evaluate", n.Name())
		}
		return Lit(scalar), nil

	default:
		return nil, errors.NewEvaluationError("Evaluate", node.String(), "unsupported node")
	}
}

func (e *Evaluator) evalNode(f *frame.Frame, node Node) (Result, error) {
	switch n := node.(type) {
	case *LiteralNode:
		return ScalarResult(n.Value()), nil

	case *NameNode:
		if f != nil {
			if values, ok := f.Values(n.Name()); ok {
				return VectorResult(values), nil
			}
		}
		if value, ok := e.ctx.Constant(n.Name()); ok {
			return ScalarResult(value), nil
		}
		return Result{}, errors.NewUnknownVariableError("Evaluate", n.Name())

	case *UnaryNode:
		operand, err := e.evalNode(f, n.Operand())
		if err != nil {
			return Result{}, err
		}
		if n.Op() == UnaryPlus {
			return operand, nil
		}
		return mapResult(operand, func(v float64) float64 { return -v }), nil

	case *BinaryNode:
		left, err := e.evalNode(f, n.Left())
		if err != nil {
			return Result{}, err
		}
		right, err := e.evalNode(f, n.Right())
		if err != nil {
			return Result{}, err
		}
		return zipResults(left, right, binaryOpFunc(n.Op()))

	case *CallNode:
		return e.evalCall(f, n)

	default:
		return Result{}, errors.NewEvaluationError("Evaluate", node.String(), "unsupported node")
	}
}

func (e *Evaluator) evalCall(f *frame.Frame, call *CallNode) (Result, error) {
	if IsAggregate(call.Name()) {
		// Aggregates are substituted before this walk; reaching one here
		// means the caller skipped SubstituteAggregates.
		return Result{}, errors.NewEvaluationError("Evaluate", call.Name(), "unsubstituted aggregate call")
	}
	if IsSpatial(call.Name()) {
		return Result{}, errors.NewEvaluationError("Evaluate", call.Name(),
			"spatial operators cannot be evaluated point-wise; use the gridded evaluator")
	}

	if fn, ok := UnaryMathFunc(call.Name()); ok {
		if len(call.Args()) != 1 {
			return Result{}, errors.NewArityError("Evaluate", call.Name(), 1, len(call.Args()))
		}
		arg, err := e.evalNode(f, call.Args()[0])
		if err != nil {
			return Result{}, err
		}
		return mapResult(arg, fn), nil
	}

	if fn, ok := BinaryMathFunc(call.Name()); ok {
		if len(call.Args()) != 2 {
			return Result{}, errors.NewArityError("Evaluate", call.Name(), 2, len(call.Args()))
		}
		a, err := e.evalNode(f, call.Args()[0])
		if err != nil {
			return Result{}, err
		}
		b, err := e.evalNode(f, call.Args()[1])
		if err != nil {
			return Result{}, err
		}
		return zipResults(a, b, fn)
	}

	return Result{}, errors.NewUnknownFunctionError("Evaluate", call.Name())
}

func binaryOpFunc(op BinaryOp) func(a, b float64) float64 {
	switch op {
	case OpAdd:
		return func(a, b float64) float64 { return a + b }
	case OpSub:
		return func(a, b float64) float64 { return a - b }
	case OpMul:
		return func(a, b float64) float64 { return a * b }
	case OpDiv:
		// Division by zero yields ±Inf or NaN per IEEE semantics.
		return func(a, b float64) float64 { return a / b }
	default:
		return math.Pow
	}
}

func mapResult(r Result, fn func(float64) float64) Result {
	if r.IsScalar() {
		return ScalarResult(fn(r.scalar))
	}
	out := make([]float64, len(r.values))
	for i, v := range r.values {
		out[i] = fn(v)
	}
	return VectorResult(out)
}

func zipResults(a, b Result, fn func(x, y float64) float64) (Result, error) {
	if a.IsScalar() && b.IsScalar() {
		return ScalarResult(fn(a.scalar, b.scalar)), nil
	}
	if a.IsScalar() {
		out := make([]float64, len(b.values))
		for i, v := range b.values {
			out[i] = fn(a.scalar, v)
		}
		return VectorResult(out), nil
	}
	if b.IsScalar() {
		out := make([]float64, len(a.values))
		for i, v := range a.values {
			out[i] = fn(v, b.scalar)
		}
		return VectorResult(out), nil
	}
	if len(a.values) != len(b.values) {
		return Result{}, errors.NewEvaluationError("Evaluate", "",
			fmt.Sprintf("operand lengths differ: %d and %d", len(a.values), len(b.values)))
	}
	out := make([]float64, len(a.values))
	for i := range out {
		out[i] = fn(a.values[i], b.values[i])
	}
	return VectorResult(out), nil
}
