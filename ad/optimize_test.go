package ad

// Testing the optimizer (component J): every case drives Optimize
// through the public recording surface and checks the optimized
// Function still evaluates identically to the original, rather than
// inspecting tape internals.

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record builds a sealed Function from indep values x, running build to
// produce the dependent vector.
func record(t *testing.T, x []float64, build func(v []Var) []Var) *Function {
	t.Helper()
	indep := Independent(x)
	y := build(indep)
	f, err := Dependent(y)
	require.NoError(t, err)
	return f
}

func evalAt(t *testing.T, f *Function, x []float64) []float64 {
	t.Helper()
	out, err := f.Forward(0, 0, 0, [][]float64{x})
	require.NoError(t, err)
	return out[0]
}

func TestOptimizeDeadCodeElimination(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		used := v[0].Mul(v[1])
		_ = v[0].Add(v[1]) // dead: never reaches a dependent
		return []Var{used}
	})

	before := evalAt(t, f, []float64{2., 3.})

	opt, info := f.Optimize(OptimizeOptions{})
	after := evalAt(t, opt, []float64{2., 3.})

	assert.Equal(t, before, after)
	require.NotEmpty(t, info.Passes)
	assert.Equal(t, "liveness", info.Passes[0].Name)
	assert.Less(t, info.Passes[0].OpsAfter, info.Passes[0].OpsBefore)
}

func TestOptimizeCSE(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		a := v[0].Mul(v[1])
		b := v[0].Mul(v[1]) // identical subexpression
		return []Var{a.Add(b)}
	})

	for _, x := range [][]float64{{2., 3.}, {-1., 4.}, {0., 0.}} {
		before := evalAt(t, f, x)
		opt, _ := f.Optimize(OptimizeOptions{})
		after := evalAt(t, opt, x)
		assert.Equal(t, before, after, "x=%v", x)
	}
}

func TestOptimizeSumFusion(t *testing.T) {
	f := record(t, []float64{1., 2., 3., 4.}, func(v []Var) []Var {
		s := v[0].Add(v[1])
		s = s.Add(v[2])
		s = s.Sub(v[3])
		return []Var{s}
	})

	for _, x := range [][]float64{{1., 2., 3., 4.}, {5., -2., 0.5, 9.}} {
		before := evalAt(t, f, x)
		opt, _ := f.Optimize(OptimizeOptions{})
		after := evalAt(t, opt, x)
		assert.Equal(t, before, after, "x=%v", x)
	}
}

// TestOptimizeSumFusionCancellation exercises fuseSums' zero-net-term
// case: x0 + x1 - x1 must fuse to just x0, not to "x0 + x1 - x1" wrongly
// collapsed into a positive double-count of x1.
func TestOptimizeSumFusionCancellation(t *testing.T) {
	f := record(t, []float64{5., 7.}, func(v []Var) []Var {
		s := v[0].Add(v[1])
		s = s.Sub(v[1])
		return []Var{s}
	})

	for _, x := range [][]float64{{5., 7.}, {-3., 11.}} {
		before := evalAt(t, f, x)
		opt, _ := f.Optimize(OptimizeOptions{})
		after := evalAt(t, opt, x)
		assert.Equal(t, before, after, "x=%v", x)
		assert.Equal(t, x[0], after[0])
	}
}

func TestOptimizeCondExpSkipSets(t *testing.T) {
	f := record(t, []float64{1., -1.}, func(v []Var) []Var {
		thenBranch := v[0].Mul(v[0])
		elseBranch := v[1].Mul(v[1]).Neg()
		cond := CondExp(RelGe, v[0], Value(0.), thenBranch, elseBranch)
		return []Var{cond}
	})

	for _, x := range [][]float64{{1., -1.}, {-2., 3.}, {0., 0.}} {
		before := evalAt(t, f, x)
		opt, _ := f.Optimize(OptimizeOptions{})
		after := evalAt(t, opt, x)
		assert.Equal(t, before, after, "x=%v", x)
	}
}

func TestOptimizeGradientUnchanged(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		a := v[0].Mul(v[1])
		b := v[0].Mul(v[1])
		c := a.Add(b)
		d := c.Add(v[0])
		d = d.Sub(v[0])
		return []Var{d}
	})
	opt, _ := f.Optimize(OptimizeOptions{})

	for _, fn := range []*Function{f, opt} {
		require.NoError(t, fn.CapacityOrder(1, 1))
		_, err := fn.Forward(0, 0, 0, [][]float64{{2., 3.}})
		require.NoError(t, err)
		dw, err := fn.Reverse(0, []float64{1.})
		require.NoError(t, err)
		assert.Equal(t, []float64{6., 4.}, dw)
	}
}
