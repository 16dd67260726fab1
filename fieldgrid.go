// Package fieldgrid is a formula evaluation and spatial computation engine
// for time-varying 2D scalar and vector field datasets.
//
// A dataset is a sequence of frames, each holding one time step's scattered
// point samples as named float64 columns. The engine validates user formulas
// against a restricted grammar, evaluates them point-wise or as gridded
// fields with differential operators (grad_x, grad_y, laplacian, div, curl),
// and derives dataset-global constants that formulas can reference by name.
//
// Basic usage:
//
//	src, err := fieldgrid.OpenParquet(ctx, "dataset.parquet")
//	engine, err := fieldgrid.Open(src)
//	defer engine.Close()
//
//	fields, err := engine.ComputeFields(ctx, fieldgrid.FieldRequest{
//		FrameIndex: 0,
//		XFormula:   "x",
//		YFormula:   "y",
//		Heatmap:    "sqrt(u**2 + v**2)",
//		VectorU:    "u",
//		VectorV:    "v",
//	})
package fieldgrid

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/fieldgrid/fieldgrid/internal/config"
	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/fieldgrid/fieldgrid/internal/grid"
	"github.com/fieldgrid/fieldgrid/internal/parallel"
	"github.com/fieldgrid/fieldgrid/internal/source"
	"github.com/fieldgrid/fieldgrid/internal/spatial"
	"github.com/fieldgrid/fieldgrid/internal/stats"
	"github.com/fieldgrid/fieldgrid/internal/store"
)

// Re-exported core types. The internal packages stay private; everything a
// caller needs passes through these aliases.
type (
	// Config holds engine tuning knobs.
	Config = config.Config
	// Frame is one time step's immutable point table.
	Frame = frame.Frame
	// Column is a named float64 column.
	Column = frame.Column
	// Source supplies frames to the engine.
	Source = source.Source
	// EngineError is the typed error returned by all engine operations.
	EngineError = errors.EngineError
	// ErrorKind classifies an EngineError.
	ErrorKind = errors.Kind
)

// Error kinds, for errors.As / errors.Is dispatch.
const (
	KindSyntax          = errors.KindSyntax
	KindValidation      = errors.KindValidation
	KindUnknownVariable = errors.KindUnknownVariable
	KindArity           = errors.KindArity
	KindUnknownFunction = errors.KindUnknownFunction
	KindGeometry        = errors.KindGeometry
	KindPoolCrashed     = errors.KindPoolCrashed
	KindEvaluation      = errors.KindEvaluation
)

// Sentinel errors matching whole kinds via errors.Is.
var (
	ErrGeometry        = errors.ErrGeometry
	ErrPoolCrashed     = errors.ErrPoolCrashed
	ErrUnknownVariable = errors.ErrUnknownVariable
)

// NewConfig returns the default configuration.
func NewConfig() Config { return config.NewConfig() }

// LoadConfigFromFile loads a JSON or YAML configuration file.
func LoadConfigFromFile(path string) (Config, error) { return config.LoadFromFile(path) }

// LoadConfigFromEnv loads configuration from FIELDGRID_* environment
// variables.
func LoadConfigFromEnv() Config { return config.LoadFromEnv() }

// SetGlobalConfig replaces the process-wide default configuration.
func SetGlobalConfig(cfg Config) { config.SetGlobalConfig(cfg) }

// GetGlobalConfig returns the process-wide default configuration.
func GetGlobalConfig() Config { return config.GetGlobalConfig() }

// NewColumn builds a column from values.
func NewColumn(name string, values []float64) *Column {
	return frame.NewColumn(name, values, nil)
}

// NewFrame builds a frame from named value slices. Columns are ordered by
// name.
func NewFrame(index int, timeKey float64, data map[string][]float64) (*Frame, error) {
	order := make([]string, 0, len(data))
	for name := range data {
		order = append(order, name)
	}
	sort.Strings(order)
	return frame.FromMap(index, timeKey, order, data, nil)
}

// NewMemorySource wraps in-memory frames as a Source.
func NewMemorySource(frames []*Frame) (Source, error) {
	return source.NewMemorySource(frames)
}

// OpenParquet loads a Parquet dataset, splitting rows into frames on the
// frame_index column.
func OpenParquet(ctx context.Context, path string) (Source, error) {
	return source.OpenParquet(ctx, path)
}

// FieldRequest asks for the gridded fields of one frame. All requested
// fields share one mesh spanning the evaluated axis formulas. Zero
// Width/Height fall back to the configured defaults.
type FieldRequest struct {
	FrameIndex int
	XFormula   string
	YFormula   string

	// Optional field formulas; empty strings are skipped.
	Heatmap string
	Contour string
	VectorU string
	VectorV string

	Width  int
	Height int
	UseGPU bool
}

// FieldSet is the result of a FieldRequest. GridX and GridY are the shared
// mesh coordinate matrices; each requested field is a grid of the same
// shape, nil when not requested.
type FieldSet struct {
	GridX [][]float64
	GridY [][]float64

	Heatmap [][]float64
	Contour [][]float64
	VectorU [][]float64
	VectorV [][]float64
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStorePath opens a SQLite store at path. Previously persisted constants
// and definitions are loaded at Open; recomputed values are saved back.
func WithStorePath(path string) Option {
	return func(e *Engine) { e.storePath = path }
}

// WithCoordinateColumns overrides the column names used as spatial
// coordinates when gridding for statistics and derived variables. The
// defaults are "x" and "y".
func WithCoordinateColumns(x, y string) Option {
	return func(e *Engine) { e.xColumn, e.yColumn = x, y }
}

// Engine binds a Source to the validator, evaluators and statistics engine.
// All methods are safe for concurrent use; the constant namespace is an
// immutable snapshot swapped under a lock, never mutated in place.
type Engine struct {
	src    Source
	cfg    Config
	logger *slog.Logger

	xColumn, yColumn string

	storePath string
	db        *store.Store

	mu          sync.RWMutex
	scope       formula.Context
	definitions []string
}

// Open creates an Engine over a source.
func Open(src Source, opts ...Option) (*Engine, error) {
	e := &Engine{
		src:     src,
		cfg:     config.GetGlobalConfig(),
		xColumn: "x",
		yColumn: "y",
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	if e.logger == nil {
		if e.cfg.VerboseLogging {
			e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: e.cfg.LogLevel(),
			}))
		} else {
			e.logger = slog.Default()
		}
	}

	e.scope = formula.NewContext().WithVariables(src.Variables())

	if e.storePath != "" {
		db, err := store.Open(e.storePath)
		if err != nil {
			return nil, err
		}
		e.db = db

		constants, err := db.LoadConstants(context.Background())
		if err != nil {
			db.Close()
			return nil, err
		}
		definitions, err := db.LoadDefinitions(context.Background())
		if err != nil {
			db.Close()
			return nil, err
		}
		e.scope = e.scope.WithConstants(constants)
		e.definitions = definitions
	}
	return e, nil
}

// Close releases the engine's persistence handle, if any.
func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Variables returns the dataset's variable names, sorted.
func (e *Engine) Variables() []string {
	return e.src.Variables()
}

// Constants returns the current constant namespace, science constants
// included.
func (e *Engine) Constants() map[string]float64 {
	return e.snapshot().Constants()
}

// Definitions returns the custom-constant definitions in evaluation order.
func (e *Engine) Definitions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.definitions))
	copy(out, e.definitions)
	return out
}

func (e *Engine) snapshot() formula.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scope
}

// Validate checks a formula against the grammar and the current namespace.
// It returns whether the formula is valid and a message describing the first
// problem when it is not.
func (e *Engine) Validate(input string) (bool, string) {
	return formula.NewValidator(e.snapshot()).Validate(input)
}

// UsedVariables returns the sorted dataset variables a formula references,
// or nil when it does not parse.
func (e *Engine) UsedVariables(input string) []string {
	return formula.NewValidator(e.snapshot()).UsedVariables(input)
}

// EvaluateScalar evaluates a point-wise formula against one frame and
// returns one value per point. Constant formulas broadcast to the frame
// length. Spatial operators are rejected here; use ComputeFields.
func (e *Engine) EvaluateScalar(ctx context.Context, frameIndex int, input string) ([]float64, error) {
	f, err := e.src.Frame(ctx, frameIndex)
	if err != nil {
		return nil, err
	}

	result, err := formula.NewEvaluator(e.snapshot(), e.logger).Evaluate(f, input)
	if err != nil {
		return nil, err
	}
	return result.Broadcast(f.Len()), nil
}

// ComputeFields grids the requested fields of one frame over a shared mesh.
func (e *Engine) ComputeFields(ctx context.Context, req FieldRequest) (*FieldSet, error) {
	if req.XFormula == "" || req.YFormula == "" {
		return nil, errors.NewValidationError("ComputeFields", "",
			"both axis formulas are required")
	}

	f, err := e.src.Frame(ctx, req.FrameIndex)
	if err != nil {
		return nil, err
	}

	scope := e.snapshot()
	evaluator := formula.NewEvaluator(scope, e.logger)

	xres, err := evaluator.Evaluate(f, req.XFormula)
	if err != nil {
		return nil, err
	}
	yres, err := evaluator.Evaluate(f, req.YFormula)
	if err != nil {
		return nil, err
	}
	xs := xres.Broadcast(f.Len())
	ys := yres.Broadcast(f.Len())

	width, height := req.Width, req.Height
	if width == 0 {
		width = e.cfg.GridWidth
	}
	if height == 0 {
		height = e.cfg.GridHeight
	}

	mesh, err := grid.FromPoints(xs, ys, width, height)
	if err != nil {
		return nil, errors.NewGeometryError("ComputeFields", err.Error())
	}

	cfg := e.cfg
	cfg.UseGPU = req.UseGPU
	fe := spatial.NewFieldEvaluator(scope, &cfg, e.logger)

	out := &FieldSet{GridX: mesh.X, GridY: mesh.Y}
	for _, field := range []struct {
		input string
		dst   *[][]float64
	}{
		{req.Heatmap, &out.Heatmap},
		{req.Contour, &out.Contour},
		{req.VectorU, &out.VectorU},
		{req.VectorV, &out.VectorV},
	} {
		if field.input == "" {
			continue
		}
		computed, err := fe.ComputeGriddedField(f, field.input, xs, ys, mesh)
		if err != nil {
			return nil, err
		}
		*field.dst = computed
	}
	return out, nil
}

// ComputeBaseStats streams the dataset once, computes
// {var}_global_{mean,sum,std,var,min,max} for every variable, folds them
// into the constant namespace and persists them when a store is open.
func (e *Engine) ComputeBaseStats(ctx context.Context) (map[string]float64, error) {
	calc := e.calculator()
	computed, err := calc.ComputeBaseStats(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.scope = e.scope.WithConstants(computed)
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.SaveConstants(ctx, computed); err != nil {
			return nil, err
		}
	}
	return computed, nil
}

// DefineConstants validates and evaluates a batch of custom definitions of
// the form "name = aggregate(expression)". Later definitions may reference
// earlier ones. On success the new constants join the namespace and are
// persisted when a store is open.
func (e *Engine) DefineConstants(ctx context.Context, definitions []string) (map[string]float64, error) {
	calc := e.calculator()
	computed, err := calc.DefineConstants(ctx, e.snapshot(), definitions)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.scope = e.scope.WithConstants(computed)
	e.definitions = append(e.definitions, definitions...)
	persisted := make([]string, len(e.definitions))
	copy(persisted, e.definitions)
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.SaveConstants(ctx, computed); err != nil {
			return nil, err
		}
		if err := e.db.SaveDefinitions(ctx, persisted); err != nil {
			return nil, err
		}
	}
	return computed, nil
}

// DeleteConstant removes a custom constant and its definition from the
// namespace and the store.
func (e *Engine) DeleteConstant(ctx context.Context, name string) error {
	e.mu.Lock()
	e.scope = e.scope.WithoutConstant(name)

	kept := e.definitions[:0]
	for _, def := range e.definitions {
		parsed, err := stats.ParseDefinition(def)
		if err == nil && parsed.Name == name {
			continue
		}
		kept = append(kept, def)
	}
	e.definitions = kept
	persisted := make([]string, len(e.definitions))
	copy(persisted, e.definitions)
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.DeleteDefinition(ctx, name); err != nil {
			return err
		}
		if err := e.db.SaveDefinitions(ctx, persisted); err != nil {
			return err
		}
	}
	return nil
}

// DeriveVariable computes a new per-point variable for every frame and
// delivers each frame's values through sink, in frame order. Point-wise
// formulas evaluate directly; spatial formulas are gridded at the derived
// resolution and sampled back at the original point locations. Frames that
// fail are logged and skipped; a worker panic aborts with a pool-crash
// error.
func (e *Engine) DeriveVariable(ctx context.Context, name, input string, sink func(frameIndex int, values []float64) error) error {
	scope := e.snapshot()
	if scope.HasVariable(name) || scope.HasConstant(name) {
		return errors.NewValidationError("DeriveVariable", name,
			"name collides with an existing variable or constant")
	}
	if input == "" {
		return errors.NewValidationError("DeriveVariable", input, "empty formula")
	}
	if ok, msg := formula.NewValidator(scope).Validate(input); !ok {
		return errors.NewValidationError("DeriveVariable", input, msg)
	}

	node, err := formula.Parse(input)
	if err != nil {
		return err
	}
	isSpatial := formula.HasSpatialOps(node)

	n := e.src.FrameCount()
	workers := 1
	if n >= e.cfg.ParallelThreshold {
		workers = e.cfg.ResolveWorkerPoolSize()
	}

	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}

	// Each worker builds its own evaluator over the shared immutable scope.
	pool := parallel.NewPool[int, []float64](workers, e.logger)
	results, err := pool.Process(ctx, indexes, func(ctx context.Context, i int) ([]float64, error) {
		f, err := e.src.Frame(ctx, i)
		if err != nil {
			return nil, err
		}
		if !isSpatial {
			result, err := formula.NewEvaluator(scope, e.logger).EvaluateNode(f, node)
			if err != nil {
				return nil, err
			}
			return result.Broadcast(f.Len()), nil
		}
		return e.sampledField(f, spatial.NewFieldEvaluator(scope, &e.cfg, e.logger), input)
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("frame skipped while deriving variable",
				slog.String("name", name), slog.Int("frame", r.Index),
				slog.String("error", r.Err.Error()))
			continue
		}
		if err := sink(r.Index, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// sampledField grids a spatial formula at the derived resolution, then reads
// it back at the frame's own point locations by bilinear interpolation.
func (e *Engine) sampledField(f *Frame, fe *spatial.FieldEvaluator, input string) ([]float64, error) {
	xs, ok := f.Values(e.xColumn)
	if !ok {
		return nil, fmt.Errorf("frame has no coordinate column %q", e.xColumn)
	}
	ys, ok := f.Values(e.yColumn)
	if !ok {
		return nil, fmt.Errorf("frame has no coordinate column %q", e.yColumn)
	}

	mesh, err := grid.FromPoints(xs, ys, e.cfg.DerivedGridWidth, e.cfg.DerivedGridHeight)
	if err != nil {
		return nil, err
	}
	field, err := fe.ComputeGriddedField(f, input, xs, ys, mesh)
	if err != nil {
		return nil, err
	}
	return grid.Sample(mesh, field, xs, ys), nil
}

func (e *Engine) calculator() *stats.Calculator {
	calc := stats.NewCalculator(e.src, &e.cfg, e.logger)
	calc.XColumn = e.xColumn
	calc.YColumn = e.yColumn
	return calc
}
