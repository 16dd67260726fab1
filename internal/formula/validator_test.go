package formula_test

import (
	"testing"

	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/stretchr/testify/assert"
)

func testContext() formula.Context {
	return formula.NewContext().
		WithVariables([]string{"x", "y", "u", "v", "p"}).
		WithConstants(map[string]float64{"u_global_mean": 1.5})
}

func TestValidator_Accepts(t *testing.T) {
	v := formula.NewValidator(testContext())

	formulas := []string{
		"",
		"   ",
		"x + y",
		"sqrt(u**2 + v**2)",
		"0.5 * p * (u**2 + v**2)",
		"mean(p)",
		"std(u * v)",
		"mean(p + std(u))",
		"2 * pi",
		"u_global_mean + 1",
		"grad_x(u)",
		"div(u, v)",
		"laplacian(sqrt(u**2 + v**2))",
		"min(u, v) + max(x, y)",
		"-x ** 2",
	}

	for _, f := range formulas {
		t.Run(f, func(t *testing.T) {
			ok, msg := v.Validate(f)
			assert.True(t, ok, msg)
		})
	}
}

func TestValidator_Rejects(t *testing.T) {
	v := formula.NewValidator(testContext())

	formulas := []string{
		"q + 1",           // unregistered identifier
		"mean",            // bare aggregate identifier
		"mean + 1",        // bare aggregate identifier in expression
		"mean(p, u)",      // aggregate arity
		"sqrt + 1",        // bare function identifier
		"grad_x",          // bare spatial identifier
		"foo(x)",          // unknown function
		"x = 1",           // assignment
		"x.attr",          // attribute access
		"x[0]",            // subscript
		`"name"`,          // string literal
		"x < y",           // comparison operator
		"x and y",         // boolean keyword parses as unknown identifiers
	}

	for _, f := range formulas {
		t.Run(f, func(t *testing.T) {
			ok, msg := v.Validate(f)
			assert.False(t, ok)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestValidator_UsedVariables(t *testing.T) {
	v := formula.NewValidator(testContext())

	used := v.UsedVariables("sqrt(u**2 + v**2) + mean(p) + pi + u_global_mean")
	assert.Equal(t, []string{"p", "u", "v"}, used)

	assert.Empty(t, v.UsedVariables("2 * pi"))
	assert.Empty(t, v.UsedVariables("not ( parseable"))
}

func TestValidator_ContextRebuild(t *testing.T) {
	ctx := formula.NewContext().WithVariables([]string{"a"})
	v := formula.NewValidator(ctx)

	ok, _ := v.Validate("b + 1")
	assert.False(t, ok)

	// Schema change: build a fresh validator over a new context value.
	v = formula.NewValidator(ctx.WithVariables([]string{"a", "b"}))
	ok, msg := v.Validate("b + 1")
	assert.True(t, ok, msg)
}
