package store_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fieldgrid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ConstantsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	err := s.SaveConstants(ctx, map[string]float64{
		"p_global_mean": 3.5,
		"p_global_std":  1.2,
	})
	require.NoError(t, err)

	got, err := s.LoadConstants(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got["p_global_mean"], 1e-12)
	assert.InDelta(t, 1.2, got["p_global_std"], 1e-12)

	// Upsert replaces an existing value.
	err = s.SaveConstants(ctx, map[string]float64{"p_global_mean": 4.0})
	require.NoError(t, err)
	got, err = s.LoadConstants(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got["p_global_mean"], 1e-12)
	assert.Len(t, got, 2)
}

func TestStore_NaNConstant(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConstants(ctx, map[string]float64{"empty_mean": math.NaN()}))

	got, err := s.LoadConstants(ctx)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got["empty_mean"]))
}

func TestStore_DeleteConstant(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConstants(ctx, map[string]float64{"a": 1}))
	require.NoError(t, s.DeleteConstant(ctx, "a"))
	require.NoError(t, s.DeleteConstant(ctx, "never_existed"))

	got, err := s.LoadConstants(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_DefinitionsKeepOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	defs := []string{
		"p_avg = mean(p)",
		"p_excess = mean(p - p_avg)",
		"vort = std(curl(u, v))",
	}
	require.NoError(t, s.SaveDefinitions(ctx, defs))

	got, err := s.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, defs, got)

	// Replacing shrinks the list rather than appending.
	require.NoError(t, s.SaveDefinitions(ctx, defs[:1]))
	got, err = s.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, defs[:1], got)
}

func TestStore_DeleteDefinitionRemovesValue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDefinitions(ctx, []string{"p_avg = mean(p)"}))
	require.NoError(t, s.SaveConstants(ctx, map[string]float64{"p_avg": 3.5}))

	require.NoError(t, s.DeleteDefinition(ctx, "p_avg"))

	defs, err := s.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	constants, err := s.LoadConstants(ctx)
	require.NoError(t, err)
	assert.NotContains(t, constants, "p_avg")
}

func TestStore_RejectsMalformedDefinition(t *testing.T) {
	s := openStore(t)
	err := s.SaveDefinitions(context.Background(), []string{"no assignment here"})
	assert.Error(t, err)
}
