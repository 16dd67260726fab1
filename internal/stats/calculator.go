package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/fieldgrid/fieldgrid/internal/config"
	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/fieldgrid/fieldgrid/internal/grid"
	"github.com/fieldgrid/fieldgrid/internal/parallel"
	"github.com/fieldgrid/fieldgrid/internal/source"
	"github.com/fieldgrid/fieldgrid/internal/spatial"
)

// Calculator derives dataset-global constants from a frame source. Base
// statistics stream every variable once; custom definitions are evaluated
// either by streaming point values or, when they contain spatial operators,
// by gridding every frame.
type Calculator struct {
	// XColumn and YColumn name the coordinate columns used to grid frames
	// for spatial definitions.
	XColumn string
	YColumn string

	src    source.Source
	cfg    *config.Config
	logger *slog.Logger
}

// NewCalculator creates a calculator over a source.
func NewCalculator(src source.Source, cfg *config.Config, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		XColumn: "x",
		YColumn: "y",
		src:     src,
		cfg:     cfg,
		logger:  logger,
	}
}

// ComputeBaseStats streams the whole dataset once and returns the constants
// {var}_global_{mean,sum,std,var,min,max} for every variable.
func (c *Calculator) ComputeBaseStats(ctx context.Context) (map[string]float64, error) {
	accs := make(map[string]*Accumulator, len(c.src.Variables()))
	for _, name := range c.src.Variables() {
		accs[name] = &Accumulator{}
	}

	err := c.src.IterFrames(ctx, nil, func(f *frame.Frame) error {
		for name, acc := range accs {
			values, ok := f.Values(name)
			if !ok {
				continue
			}
			var chunk Accumulator
			chunk.AddAll(values)
			acc.Merge(chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, 6*len(accs))
	for name, acc := range accs {
		out[name+"_global_mean"] = acc.Mean()
		out[name+"_global_sum"] = acc.Sum()
		out[name+"_global_std"] = acc.Std()
		out[name+"_global_var"] = acc.Var()
		out[name+"_global_min"] = acc.Min()
		out[name+"_global_max"] = acc.Max()
	}
	return out, nil
}

// DefineConstants validates a batch of custom definitions, then evaluates
// them in order. Each definition may reference the constants defined before
// it in the same batch. Validation is all-or-nothing: one bad definition
// fails the whole batch before any evaluation starts.
//
// Point-wise definitions aggregate over every point of the dataset, so
// frames with more points weigh more. Spatial definitions reduce each
// frame's grid to one value and combine those values with equal frame
// weight. The two strategies intentionally disagree for uneven frames.
func (c *Calculator) DefineConstants(ctx context.Context, baseCtx formula.Context, inputs []string) (map[string]float64, error) {
	defs, err := ValidateDefinitions(baseCtx, inputs)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	c.logger.Info("defining global constants",
		slog.String("batch", batchID), slog.Int("count", len(defs)))

	values := make(map[string]float64, len(defs))
	scope := baseCtx
	for _, def := range defs {
		var v float64
		if def.Spatial {
			v, err = c.spatialConstant(ctx, scope, def, batchID)
		} else {
			v, err = c.streamingConstant(ctx, scope, def)
		}
		if err != nil {
			return nil, err
		}

		c.logger.Debug("defined constant",
			slog.String("batch", batchID), slog.String("name", def.Name), slog.Float64("value", v))
		values[def.Name] = v
		scope = scope.WithConstants(map[string]float64{def.Name: v})
	}
	return values, nil
}

// streamingConstant evaluates a point-wise definition in one pass, carrying
// only the running sum, sum of squares and count.
func (c *Calculator) streamingConstant(ctx context.Context, scope formula.Context, def *Definition) (float64, error) {
	evaluator := formula.NewEvaluator(scope, c.logger)

	var sum, sumsq float64
	var count int64
	err := c.src.IterFrames(ctx, nil, func(f *frame.Frame) error {
		result, err := evaluator.EvaluateNode(f, def.Expr)
		if err != nil {
			return err
		}
		for _, v := range result.Broadcast(f.Len()) {
			if math.IsNaN(v) {
				continue
			}
			sum += v
			sumsq += v * v
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return combineMoments(def.Aggregate, sum, sumsq, count), nil
}

func combineMoments(aggregate string, sum, sumsq float64, count int64) float64 {
	if aggregate == "sum" {
		return sum
	}
	if count == 0 {
		return math.NaN()
	}
	mean := sum / float64(count)
	if aggregate == "mean" {
		return mean
	}

	variance := sumsq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	if aggregate == "var" {
		return variance
	}
	return math.Sqrt(variance)
}

// spatialConstant grids the definition on every frame, reduces each grid to
// one value, and combines the per-frame values. Frames that fail to grid are
// logged and excluded; the definition fails only when no frame succeeds.
func (c *Calculator) spatialConstant(ctx context.Context, scope formula.Context, def *Definition, batchID string) (float64, error) {
	n := c.src.FrameCount()
	if n == 0 {
		return 0, errors.NewEvaluationError("DefineConstants", def.Name, "dataset has no frames")
	}

	workers := 1
	if n >= c.cfg.ParallelThreshold {
		workers = c.cfg.ResolveWorkerPoolSize()
	}

	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}

	// Each worker builds its own evaluator over the shared immutable scope.
	pool := parallel.NewPool[int, float64](workers, c.logger)
	results, err := pool.Process(ctx, indexes, func(ctx context.Context, i int) (float64, error) {
		return c.frameValue(ctx, scope, def, i)
	})
	if err != nil {
		return 0, err
	}

	var combined Accumulator
	for _, r := range results {
		if r.Err != nil {
			c.logger.Warn("frame excluded from constant",
				slog.String("batch", batchID), slog.String("name", def.Name),
				slog.Int("frame", r.Index), slog.String("error", r.Err.Error()))
			continue
		}
		combined.Add(r.Value)
	}
	if combined.Count() == 0 {
		return 0, errors.NewEvaluationError("DefineConstants", def.Name,
			"no frame produced a value")
	}

	// Per-frame reductions combine as an unweighted mean for every
	// aggregate: frames with different point counts contribute equally,
	// and sum yields the mean of the frame sums, not their total.
	return combined.Mean(), nil
}

func (c *Calculator) frameValue(ctx context.Context, scope formula.Context, def *Definition, index int) (float64, error) {
	f, err := c.src.Frame(ctx, index)
	if err != nil {
		return 0, err
	}
	fe := spatial.NewFieldEvaluator(scope, c.cfg, c.logger)

	xs, ok := f.Values(c.XColumn)
	if !ok {
		return 0, fmt.Errorf("frame has no coordinate column %q", c.XColumn)
	}
	ys, ok := f.Values(c.YColumn)
	if !ok {
		return 0, fmt.Errorf("frame has no coordinate column %q", c.YColumn)
	}

	mesh, err := grid.FromPoints(xs, ys, c.cfg.DerivedGridWidth, c.cfg.DerivedGridHeight)
	if err != nil {
		return 0, err
	}

	field, err := fe.ComputeGriddedField(f, def.ExprText(), xs, ys, mesh)
	if err != nil {
		return 0, err
	}

	flat := make([]float64, 0, len(field)*len(field[0]))
	for _, row := range field {
		for _, v := range row {
			if !math.IsNaN(v) {
				flat = append(flat, v)
			}
		}
	}
	if len(flat) == 0 {
		return 0, fmt.Errorf("gridded field is entirely NaN")
	}

	value, ok := formula.Reduce(def.Aggregate, flat)
	if !ok {
		return 0, errors.NewUnknownFunctionError("DefineConstants", def.Aggregate)
	}
	return value, nil
}
