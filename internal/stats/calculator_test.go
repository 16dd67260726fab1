package stats_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/internal/config"
	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/fieldgrid/fieldgrid/internal/source"
	"github.com/fieldgrid/fieldgrid/internal/stats"
)

// latticeSource builds frames on an n*n lattice over [0,1]^2 with
// u = 2x + offset per frame.
func latticeSource(t *testing.T, frameCount, n int) *source.MemorySource {
	t.Helper()

	frames := make([]*frame.Frame, 0, frameCount)
	for fi := 0; fi < frameCount; fi++ {
		xs := make([]float64, 0, n*n)
		ys := make([]float64, 0, n*n)
		us := make([]float64, 0, n*n)
		for i := 0; i < n; i++ {
			y := float64(i) / float64(n-1)
			for j := 0; j < n; j++ {
				x := float64(j) / float64(n-1)
				xs = append(xs, x)
				ys = append(ys, y)
				us = append(us, 2*x+float64(fi))
			}
		}
		f, err := frame.New(fi, float64(fi),
			frame.NewColumn("x", xs, nil),
			frame.NewColumn("y", ys, nil),
			frame.NewColumn("u", us, nil),
		)
		require.NoError(t, err)
		frames = append(frames, f)
	}

	s, err := source.NewMemorySource(frames)
	require.NoError(t, err)
	return s
}

func flatSource(t *testing.T, columns map[string][][]float64) *source.MemorySource {
	t.Helper()

	frameCount := 0
	for _, perFrame := range columns {
		frameCount = len(perFrame)
		break
	}

	frames := make([]*frame.Frame, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		cols := make([]*frame.Column, 0, len(columns))
		for _, name := range sortedKeys(columns) {
			cols = append(cols, frame.NewColumn(name, columns[name][i], nil))
		}
		f, err := frame.New(i, float64(i), cols...)
		require.NoError(t, err)
		frames = append(frames, f)
	}

	s, err := source.NewMemorySource(frames)
	require.NoError(t, err)
	return s
}

func sortedKeys(m map[string][][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

func statsConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.DerivedGridWidth = 32
	cfg.DerivedGridHeight = 32
	return &cfg
}

func TestComputeBaseStats(t *testing.T) {
	src := flatSource(t, map[string][][]float64{
		"p": {{1, 2, 3}, {4, 5, 6}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)

	got, err := calc.ComputeBaseStats(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 3.5, got["p_global_mean"], 1e-12)
	assert.InDelta(t, 21.0, got["p_global_sum"], 1e-12)
	assert.InDelta(t, 1.0, got["p_global_min"], 1e-12)
	assert.InDelta(t, 6.0, got["p_global_max"], 1e-12)
	// Population variance of 1..6.
	assert.InDelta(t, 17.5/6, got["p_global_var"], 1e-12)
	assert.InDelta(t, math.Sqrt(17.5/6), got["p_global_std"], 1e-12)
}

func TestParseDefinition(t *testing.T) {
	def, err := stats.ParseDefinition("p_avg = mean(p * 2)")
	require.NoError(t, err)
	assert.Equal(t, "p_avg", def.Name)
	assert.Equal(t, "mean", def.Aggregate)
	assert.False(t, def.Spatial)

	def, err = stats.ParseDefinition("vort = std(curl(u, v))")
	require.NoError(t, err)
	assert.True(t, def.Spatial)

	bad := []string{
		"mean(p)",              // no assignment
		"2x = mean(p)",         // invalid name
		"a = p + 1",            // no aggregate wrapper
		"a = median(p)",        // unsupported global aggregate
		"a = mean(p, u)",       // arity
		"a = mean(p) + 1",      // aggregate not at the top
	}
	for _, input := range bad {
		t.Run(input, func(t *testing.T) {
			_, err := stats.ParseDefinition(input)
			assert.Error(t, err)
		})
	}
}

func TestValidateDefinitions(t *testing.T) {
	ctx := formula.NewContext().
		WithVariables([]string{"x", "y", "u", "p"}).
		WithConstants(map[string]float64{"p_ref": 1})

	defs, err := stats.ValidateDefinitions(ctx, []string{
		"p_avg = mean(p)",
		"p_excess = mean(p - p_avg)", // references the previous definition
	})
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	cases := map[string][]string{
		"collides with variable":  {"p = mean(u)"},
		"collides with constant":  {"p_ref = mean(u)"},
		"collides with builtin":   {"pi = mean(u)"},
		"collides with function":  {"sqrt = mean(u)"},
		"duplicate within batch":  {"a = mean(u)", "a = mean(p)"},
		"forward reference":       {"a = mean(b)", "b = mean(p)"},
		"unknown variable":        {"a = mean(q)"},
	}
	for name, inputs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := stats.ValidateDefinitions(ctx, inputs)
			require.Error(t, err)

			var engineErr *errors.EngineError
			assert.ErrorAs(t, err, &engineErr)
		})
	}
}

func TestDefineConstants_Streaming(t *testing.T) {
	src := flatSource(t, map[string][][]float64{
		"p": {{1, 2, 3}, {4, 5, 6}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"p"})

	got, err := calc.DefineConstants(context.Background(), ctx, []string{
		"p_total = sum(p)",
		"p_avg = mean(p)",
		"p_var = var(p)",
		"p_std = std(p)",
	})
	require.NoError(t, err)

	assert.InDelta(t, 21.0, got["p_total"], 1e-12)
	assert.InDelta(t, 3.5, got["p_avg"], 1e-12)
	assert.InDelta(t, 17.5/6, got["p_var"], 1e-12)
	assert.InDelta(t, math.Sqrt(17.5/6), got["p_std"], 1e-12)
}

func TestDefineConstants_ChainedDefinitions(t *testing.T) {
	src := flatSource(t, map[string][][]float64{
		"p": {{1, 2, 3}, {4, 5, 6}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"p"})

	got, err := calc.DefineConstants(context.Background(), ctx, []string{
		"p_avg = mean(p)",
		"p_shifted = mean(p - p_avg)",
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got["p_avg"], 1e-12)
	assert.InDelta(t, 0.0, got["p_shifted"], 1e-12)
}

func TestDefineConstants_StdOfConstantClampsToZero(t *testing.T) {
	src := flatSource(t, map[string][][]float64{
		"p": {{2, 2, 2}, {2, 2, 2}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"p"})

	got, err := calc.DefineConstants(context.Background(), ctx, []string{"z = std(p * 1e8)"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["z"])
}

func TestDefineConstants_Spatial(t *testing.T) {
	src := latticeSource(t, 2, 11)
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"x", "y", "u"})

	// u = 2x + frame offset, so grad_x(u) is 2 on every frame.
	got, err := calc.DefineConstants(context.Background(), ctx, []string{"slope = mean(grad_x(u))"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got["slope"], 1e-6)
}

func TestDefineConstants_SpatialSumIsFrameMean(t *testing.T) {
	src := latticeSource(t, 2, 11)
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"x", "y", "u"})

	// grad_x(u) is 2 on every node of the 32x32 derived grid, so each
	// frame's sum is 2048. The two frames combine as an unweighted mean of
	// the per-frame sums, not their total.
	got, err := calc.DefineConstants(context.Background(), ctx, []string{"s1 = sum(grad_x(u))"})
	require.NoError(t, err)
	assert.InDelta(t, 2048.0, got["s1"], 1e-3)
}

func TestDefineConstants_SpatialExcludesFailedFrames(t *testing.T) {
	nan := math.NaN()
	src := flatSource(t, map[string][][]float64{
		"x": {{0, 1, 0, 1, 0.5}, {0, 1, 0, 1, 0.5}},
		"y": {{0, 0, 1, 1, 0.5}, {0, 0, 1, 1, 0.5}},
		"u": {{nan, nan, nan, nan, nan}, {3, 3, 3, 3, 3}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"x", "y", "u"})

	// The first frame grids to all-NaN and is excluded; the constant comes
	// from the surviving frame alone.
	got, err := calc.DefineConstants(context.Background(), ctx, []string{"lvl = mean(grad_x(u) + u)"})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got["lvl"], 1e-6)
}

func TestDefineConstants_FailFastBatch(t *testing.T) {
	src := flatSource(t, map[string][][]float64{
		"p": {{1, 2, 3}},
	})
	calc := stats.NewCalculator(src, statsConfig(), nil)
	ctx := formula.NewContext().WithVariables([]string{"p"})

	_, err := calc.DefineConstants(context.Background(), ctx, []string{
		"good = mean(p)",
		"bad = mean(missing)",
	})
	require.Error(t, err)

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, errors.KindValidation, engineErr.Kind)
}
