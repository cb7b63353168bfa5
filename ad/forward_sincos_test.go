package ad

// Regression test for forwardSinCos/forwardSinhCosh's lock-step
// companion update: a standalone Sin or Cos op privately owns both
// slots of its (sin,cos) pair (opcode.go's nRes:2), so each op must
// advance both members of its own pair at every order, not just the
// slot it exposes.

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order2Coefficient(t *testing.T, build func(v []Var) Var, x0 float64) float64 {
	t.Helper()
	f := record(t, []float64{x0}, func(v []Var) []Var { return []Var{build(v)} })
	require.NoError(t, f.CapacityOrder(3, 1))
	_, err := f.Forward(0, 0, 0, [][]float64{{x0}})
	require.NoError(t, err)
	_, err = f.Forward(1, 1, 0, [][]float64{{1.}})
	require.NoError(t, err)
	y2, err := f.Forward(2, 2, 0, [][]float64{{0.}})
	require.NoError(t, err)
	return y2[0][0]
}

func TestForwardSinOrder2(t *testing.T) {
	x0 := 0.4
	got := order2Coefficient(t, func(v []Var) Var { return Sin(v[0]) }, x0)
	assert.InDelta(t, -math.Sin(x0)/2, got, 1e-12)
}

func TestForwardCosOrder2(t *testing.T) {
	x0 := 0.4
	got := order2Coefficient(t, func(v []Var) Var { return Cos(v[0]) }, x0)
	assert.InDelta(t, -math.Cos(x0)/2, got, 1e-12)
}

func TestForwardSinhOrder2(t *testing.T) {
	x0 := 0.4
	got := order2Coefficient(t, func(v []Var) Var { return Sinh(v[0]) }, x0)
	assert.InDelta(t, math.Sinh(x0)/2, got, 1e-12)
}

func TestForwardCoshOrder2(t *testing.T) {
	x0 := 0.4
	got := order2Coefficient(t, func(v []Var) Var { return Cosh(v[0]) }, x0)
	assert.InDelta(t, math.Cosh(x0)/2, got, 1e-12)
}
