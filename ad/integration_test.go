package ad

// Testing the six end-to-end scenarios this library's scope was drawn
// around: a plain polynomial, CondExp-as-abs, Pow's x==0 special case,
// an atomic block agreeing with its unrolled equivalent, a sparsity
// identity, and an indexed vector read/write by a varying index. Each
// scenario is driven through the same public recording surface the rest
// of the ad package's tests use.

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: y = x0*x1 + x1.
func TestScenarioPolynomial(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		return []Var{v[0].Mul(v[1]).Add(v[1])}
	})

	y := evalAt(t, f, []float64{2., 3.})
	assert.Equal(t, []float64{9.}, y)

	require.NoError(t, f.CapacityOrder(1, 1))
	_, err := f.Forward(0, 0, 0, [][]float64{{2., 3.}})
	require.NoError(t, err)
	dy, err := f.Forward(1, 1, 0, [][]float64{{1., 0.}})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.}, dy)

	dw, err := f.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{3., 3.}, dw)
}

// S2: y = CondExp(Lt, x, 0, -x, x), i.e. |x|.
func TestScenarioCondExpAbs(t *testing.T) {
	abs := func(v []Var) []Var {
		x := v[0]
		return []Var{CondExp(RelLt, x, Value(0.), x.Neg(), x)}
	}

	f := record(t, []float64{-1.5}, abs)
	assert.Equal(t, []float64{1.5}, evalAt(t, f, []float64{-1.5}))
	require.NoError(t, f.CapacityOrder(1, 1))
	_, err := f.Forward(0, 0, 0, [][]float64{{-1.5}})
	require.NoError(t, err)
	dw, err := f.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.}, dw)
	assert.Equal(t, 0, f.CompareChangeCount())

	g := record(t, []float64{2.}, abs)
	assert.Equal(t, []float64{2.}, evalAt(t, g, []float64{2.}))
	require.NoError(t, g.CapacityOrder(1, 1))
	_, err = g.Forward(0, 0, 0, [][]float64{{2.}})
	require.NoError(t, err)
	dw, err = g.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.}, dw)
	assert.Equal(t, 0, g.CompareChangeCount())
}

// S3: z = pow(x,y), exercising both the ordinary branch and the x==0
// special case documented in reverse.go's reversePowOrder0.
func TestScenarioPowBranches(t *testing.T) {
	f := record(t, []float64{0.5, 2.}, func(v []Var) []Var {
		return []Var{v[0].Pow(v[1])}
	})

	z := evalAt(t, f, []float64{0.5, 2.})
	assert.InDelta(t, 0.25, z[0], 1e-12)

	require.NoError(t, f.CapacityOrder(1, 1))
	_, err := f.Forward(0, 0, 0, [][]float64{{0.5, 2.}})
	require.NoError(t, err)
	dw, err := f.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dw[0], 1e-12)
	assert.InDelta(t, 0.25*math.Log(0.5), dw[1], 1e-12)

	g := record(t, []float64{0., 2.}, func(v []Var) []Var {
		return []Var{v[0].Pow(v[1])}
	})
	z0 := evalAt(t, g, []float64{0., 2.})
	assert.Equal(t, []float64{0.}, z0)

	require.NoError(t, g.CapacityOrder(1, 1))
	_, err = g.Forward(0, 0, 0, [][]float64{{0., 2.}})
	require.NoError(t, err)
	dw0, err := g.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{0., 0.}, dw0)
}

// S4: an atomic block must agree with the unrolled equivalent to
// machine precision, across random points.
func TestScenarioAtomicEquivalence(t *testing.T) {
	g := func(u []Var) []Var {
		return []Var{u[0].Mul(u[1]).Add(u[1])}
	}
	atomicIdx, err := Checkpoint(g, 2)
	require.NoError(t, err)

	plain := record(t, []float64{1., 1.}, g)
	viaAtomic := record(t, []float64{1., 1.}, func(v []Var) []Var {
		out, err := CallAtomic(atomicIdx, 101, v)
		require.NoError(t, err)
		return out
	})

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		x := []float64{rng.Float64()*10 - 5, rng.Float64()*10 - 5}
		want := evalAt(t, plain, x)
		got := evalAt(t, viaAtomic, x)
		assert.InDelta(t, want[0], got[0], 1e-12, "x=%v", x)
	}
}

// S5: for f(x) = [x2, x0*x1], for_jac_sparsity(I_3) must produce exactly
// {(0,2),(1,0),(1,1)}, and rev_hes_sparsity(select=[false,true]) must
// produce exactly {(0,1),(1,0)}.
func TestScenarioSparsityIdentity(t *testing.T) {
	f := record(t, []float64{1., 2., 3.}, func(v []Var) []Var {
		return []Var{v[2], v[0].Mul(v[1])}
	})

	q := 3
	patternIn := make([]bitSet, f.NumVar()+1)
	for i := range patternIn {
		patternIn[i] = newBitSet(q)
	}
	for i, addr := range f.indAddr {
		patternIn[addr][i] = true
	}

	jac := f.ForJacSparsity(patternIn, q)
	require.Len(t, jac, 2)

	want := map[[2]int]bool{{0, 2}: true, {1, 0}: true, {1, 1}: true}
	for i, row := range jac {
		for j, bit := range row {
			assert.Equal(t, want[[2]int{i, j}], bit, "jac[%d][%d]", i, j)
		}
	}

	hes, err := f.RevHesSparsity([]bool{false, true})
	require.NoError(t, err)
	wantHes := map[[2]int]bool{{0, 1}: true, {1, 0}: true}
	for i, row := range hes {
		for j, bit := range row {
			assert.Equal(t, wantHes[[2]int{i, j}], bit, "hes[%d][%d]", i, j)
		}
	}
}

// S6: a length-2 indexed vector [a,b]; store a*b into slot 0, then load
// slot floor(x) into y.
func TestScenarioIndexedVector(t *testing.T) {
	build := func(v []Var) []Var {
		a, b, x := v[0], v[1], v[2]
		vec := NewVecAD([]Var{a, b})
		vec.Store(Value(0.), a.Mul(b))
		return []Var{vec.Load(x)}
	}

	f := record(t, []float64{2., 5., 0.3}, build)
	y := evalAt(t, f, []float64{2., 5., 0.3})
	assert.Equal(t, []float64{10.}, y)

	g := record(t, []float64{2., 5., 1.3}, build)
	y2 := evalAt(t, g, []float64{2., 5., 1.3})
	assert.Equal(t, []float64{5.}, y2)

	require.NoError(t, f.CapacityOrder(1, 1))
	_, err := f.Forward(0, 0, 0, [][]float64{{2., 5., 0.3}})
	require.NoError(t, err)
	dw, err := f.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{5., 2., 0.}, dw)

	require.NoError(t, g.CapacityOrder(1, 1))
	_, err = g.Forward(0, 0, 0, [][]float64{{2., 5., 1.3}})
	require.NoError(t, err)
	dw2, err := g.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{0., 1., 0.}, dw2)
}
