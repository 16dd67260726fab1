package spatial

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/fieldgrid/fieldgrid/internal/config"
	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/fieldgrid/fieldgrid/internal/grid"
)

// FieldEvaluator grids formulas over a mesh, applying differential operators
// on the gridded domain. Point-wise subtrees are evaluated at the scattered
// sample locations and interpolated onto the mesh exactly once per distinct
// subtree; everything downstream of a spatial operator runs as grid
// arithmetic on the active backend.
type FieldEvaluator struct {
	eval   *formula.Evaluator
	interp *grid.Interpolator
	cfg    *config.Config
	logger *slog.Logger
}

// NewFieldEvaluator creates a gridded evaluator over a context snapshot.
func NewFieldEvaluator(ctx formula.Context, cfg *config.Config, logger *slog.Logger) *FieldEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldEvaluator{
		eval:   formula.NewEvaluator(ctx, logger),
		interp: grid.NewInterpolator(cfg.MinInterpolationPoints, cfg.DegeneracyEpsilon, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// evalState carries per-request evaluation context. The cache holds one grid
// per distinct point-wise subtree, keyed by the subtree's rendered form.
type evalState struct {
	backend Backend
	frame   *frame.Frame
	xs, ys  []float64
	mesh    *grid.Mesh
	cache   map[uint64]Array
}

// ComputeGriddedField evaluates a formula as a field over the mesh. xs and ys
// are the scattered sample coordinates the mesh was built from. A device
// backend, when enabled and registered, is tried first; device failures fall
// back to the CPU unless the error is a structural formula error that would
// recur there.
func (fe *FieldEvaluator) ComputeGriddedField(f *frame.Frame, input string, xs, ys []float64, m *grid.Mesh) ([][]float64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, errors.NewEvaluationError("ComputeGriddedField", input, "empty formula")
	}
	node, err := formula.Parse(trimmed)
	if err != nil {
		return nil, err
	}

	if device := fe.deviceBackend(node); device != nil {
		field, err := fe.run(device, f, node, xs, ys, m)
		if err == nil {
			return field, nil
		}
		var engineErr *errors.EngineError
		if stderrors.As(err, &engineErr) {
			return nil, err
		}
		fe.logger.Warn("device evaluation failed, falling back to CPU",
			slog.String("backend", device.Name()), slog.String("error", err.Error()))
	}

	return fe.run(NewCPUBackend(), f, node, xs, ys, m)
}

// deviceBackend returns the accelerator for this formula, or nil for CPU.
// Formulas containing frame aggregates mix scalar and grid domains and stay
// on the CPU.
func (fe *FieldEvaluator) deviceBackend(node formula.Node) Backend {
	if !fe.cfg.UseGPU {
		return nil
	}
	if formula.HasAggregates(node) {
		fe.logger.Debug("formula contains frame aggregates, staying on CPU")
		return nil
	}
	return newDeviceBackend(fe.logger)
}

func (fe *FieldEvaluator) run(b Backend, f *frame.Frame, node formula.Node, xs, ys []float64, m *grid.Mesh) (field [][]float64, err error) {
	defer b.Release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grid evaluation panic on backend %s: %v", b.Name(), r)
		}
	}()

	st := &evalState{backend: b, frame: f, xs: xs, ys: ys, mesh: m, cache: make(map[uint64]Array)}
	arr, err := fe.evalGrid(st, node)
	if err != nil {
		return nil, err
	}
	return b.ToHost(arr)
}

func (fe *FieldEvaluator) evalGrid(st *evalState, node formula.Node) (Array, error) {
	// Subtrees free of spatial operators live in the point domain: evaluate
	// them per sample and grid the result in one step.
	if !formula.HasSpatialOps(node) {
		return fe.pointGrid(st, node)
	}

	switch n := node.(type) {
	case *formula.UnaryNode:
		operand, err := fe.evalGrid(st, n.Operand())
		if err != nil {
			return nil, err
		}
		if n.Op() == formula.UnaryPlus {
			return operand, nil
		}
		return st.backend.Map(operand, "neg")

	case *formula.BinaryNode:
		left, err := fe.evalGrid(st, n.Left())
		if err != nil {
			return nil, err
		}
		right, err := fe.evalGrid(st, n.Right())
		if err != nil {
			return nil, err
		}
		return st.backend.Zip(left, right, n.Op().String())

	case *formula.CallNode:
		return fe.evalGridCall(st, n)

	default:
		return nil, errors.NewEvaluationError("ComputeGriddedField", node.String(), "unsupported node")
	}
}

func (fe *FieldEvaluator) evalGridCall(st *evalState, call *formula.CallNode) (Array, error) {
	name, args := call.Name(), call.Args()

	if formula.IsSpatial(name) {
		want, _ := formula.SpatialArity(name)
		if len(args) != want {
			return nil, errors.NewArityError("ComputeGriddedField", name, want, len(args))
		}
		return fe.evalSpatial(st, name, args)
	}

	if formula.IsAggregate(name) {
		// Reached only when the aggregate's argument itself contains spatial
		// operators: reduce the gridded argument to one scalar.
		if len(args) != 1 {
			return nil, errors.NewArityError("ComputeGriddedField", name, 1, len(args))
		}
		arg, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		host, err := st.backend.ToHost(arg)
		if err != nil {
			return nil, err
		}
		flat := make([]float64, 0, len(host)*len(host[0]))
		for _, row := range host {
			flat = append(flat, row...)
		}
		scalar, ok := formula.Reduce(name, flat)
		if !ok {
			return nil, errors.NewUnknownFunctionError("ComputeGriddedField", name)
		}
		h, w := st.mesh.Shape()
		return st.backend.Full(h, w, scalar)
	}

	if _, ok := formula.UnaryMathFunc(name); ok {
		if len(args) != 1 {
			return nil, errors.NewArityError("ComputeGriddedField", name, 1, len(args))
		}
		arg, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		return st.backend.Map(arg, name)
	}

	if _, ok := formula.BinaryMathFunc(name); ok {
		if len(args) != 2 {
			return nil, errors.NewArityError("ComputeGriddedField", name, 2, len(args))
		}
		a, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		b, err := fe.evalGrid(st, args[1])
		if err != nil {
			return nil, err
		}
		return st.backend.Zip(a, b, name)
	}

	return nil, errors.NewUnknownFunctionError("ComputeGriddedField", name)
}

func (fe *FieldEvaluator) evalSpatial(st *evalState, name string, args []formula.Node) (Array, error) {
	b := st.backend
	xc, yc := st.mesh.XCoords(), st.mesh.YCoords()

	switch name {
	case "grad_x":
		g, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		return b.Gradient(g, xc, AxisX)

	case "grad_y":
		g, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		return b.Gradient(g, yc, AxisY)

	case "laplacian":
		g, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		gx, err := b.Gradient(g, xc, AxisX)
		if err != nil {
			return nil, err
		}
		gxx, err := b.Gradient(gx, xc, AxisX)
		if err != nil {
			return nil, err
		}
		gy, err := b.Gradient(g, yc, AxisY)
		if err != nil {
			return nil, err
		}
		gyy, err := b.Gradient(gy, yc, AxisY)
		if err != nil {
			return nil, err
		}
		return b.Zip(gxx, gyy, "+")

	case "div":
		u, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		v, err := fe.evalGrid(st, args[1])
		if err != nil {
			return nil, err
		}
		ux, err := b.Gradient(u, xc, AxisX)
		if err != nil {
			return nil, err
		}
		vy, err := b.Gradient(v, yc, AxisY)
		if err != nil {
			return nil, err
		}
		return b.Zip(ux, vy, "+")

	case "curl":
		u, err := fe.evalGrid(st, args[0])
		if err != nil {
			return nil, err
		}
		v, err := fe.evalGrid(st, args[1])
		if err != nil {
			return nil, err
		}
		vx, err := b.Gradient(v, xc, AxisX)
		if err != nil {
			return nil, err
		}
		uy, err := b.Gradient(u, yc, AxisY)
		if err != nil {
			return nil, err
		}
		return b.Zip(vx, uy, "-")
	}

	return nil, errors.NewUnknownFunctionError("ComputeGriddedField", name)
}

// pointGrid grids a spatial-operator-free subtree: scalar subtrees become
// constant grids, vector subtrees are interpolated from the sample locations.
func (fe *FieldEvaluator) pointGrid(st *evalState, node formula.Node) (Array, error) {
	key := xxhash.Sum64String(node.String())
	if arr, ok := st.cache[key]; ok {
		return arr, nil
	}

	result, err := fe.eval.EvaluateNode(st.frame, node)
	if err != nil {
		return nil, err
	}

	var arr Array
	if result.IsScalar() {
		h, w := st.mesh.Shape()
		arr, err = st.backend.Full(h, w, result.Scalar())
	} else {
		field, ierr := fe.interp.Interpolate(st.xs, st.ys, result.Values(), st.mesh)
		if ierr != nil {
			return nil, ierr
		}
		arr, err = st.backend.Upload(field)
	}
	if err != nil {
		return nil, err
	}

	st.cache[key] = arr
	return arr, nil
}
