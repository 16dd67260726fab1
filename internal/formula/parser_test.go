package formula_test

import (
	"testing"

	"github.com/fieldgrid/fieldgrid/internal/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		rendered string
	}{
		{"additive is left-associative", "a - b + c", "((a - b) + c)"},
		{"multiplication binds tighter", "a + b * c", "(a + (b * c))"},
		{"power is right-associative", "2 ** 3 ** 2", "(2 ** (3 ** 2))"},
		{"unary minus over power", "-x ** 2", "(-(x ** 2))"},
		{"power with unary right operand", "2 ** -1", "(2 ** (-1))"},
		{"parentheses override", "(a + b) * c", "((a + b) * c)"},
		{"call with two args", "min(a, b + 1)", "min(a, (b + 1))"},
		{"nested calls", "sqrt(u**2 + v**2)", "sqrt(((u ** 2) + (v ** 2)))"},
		{"scientific notation", "1.5e-3 * x", "(0.0015 * x)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := formula.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.rendered, node.String())
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	inputs := []string{
		"a +",
		"(a + b",
		"a b",
		"f(a,)",
		`"text"`,
		"a[0]",
		"x = 1",
		"a < b",
		"1..2",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := formula.Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestHasSpatialOps(t *testing.T) {
	node, err := formula.Parse("grad_x(u) + sin(v)")
	require.NoError(t, err)
	assert.True(t, formula.HasSpatialOps(node))

	node, err = formula.Parse("sin(v) + mean(u)")
	require.NoError(t, err)
	assert.False(t, formula.HasSpatialOps(node))
	assert.True(t, formula.HasAggregates(node))
}

func TestParse_CallVersusName(t *testing.T) {
	node, err := formula.Parse("pi * r ** 2")
	require.NoError(t, err)
	assert.Equal(t, "(pi * (r ** 2))", node.String())

	node, err = formula.Parse("pow(r, 2)")
	require.NoError(t, err)
	call, ok := node.(*formula.CallNode)
	require.True(t, ok)
	assert.Equal(t, "pow", call.Name())
	assert.Len(t, call.Args(), 2)
}
