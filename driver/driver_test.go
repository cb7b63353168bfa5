package driver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotape/gotape/ad"
)

func recordScalar(t *testing.T, x []float64, build func(v []ad.Var) ad.Var) *ad.Function {
	t.Helper()
	indep := ad.Independent(x)
	y := build(indep)
	f, err := ad.Dependent([]ad.Var{y})
	require.NoError(t, err)
	return f
}

func recordVector(t *testing.T, x []float64, build func(v []ad.Var) []ad.Var) *ad.Function {
	t.Helper()
	indep := ad.Independent(x)
	y := build(indep)
	f, err := ad.Dependent(y)
	require.NoError(t, err)
	return f
}

func TestGradient(t *testing.T) {
	// f(x,y) = x^2 + x*y
	f := recordScalar(t, []float64{2., 3.}, func(v []ad.Var) ad.Var {
		return v[0].Mul(v[0]).Add(v[0].Mul(v[1]))
	})
	grad, err := Gradient(f, []float64{2., 3.})
	require.NoError(t, err)
	assert.Equal(t, []float64{2*2. + 3., 2.}, grad)
}

func TestJacobian(t *testing.T) {
	// y0 = x0*x1, y1 = x0+x1
	f := recordVector(t, []float64{2., 3.}, func(v []ad.Var) []ad.Var {
		return []ad.Var{v[0].Mul(v[1]), v[0].Add(v[1])}
	})
	jac, err := Jacobian(f, []float64{2., 3.})
	require.NoError(t, err)
	require.Len(t, jac, 2)
	assert.Equal(t, []float64{3., 2.}, jac[0])
	assert.Equal(t, []float64{1., 1.}, jac[1])
}

func TestHessianOfQuadratic(t *testing.T) {
	// f(x,y) = x^2 + x*y + y^2: Hessian = [[2,1],[1,2]]
	f := recordScalar(t, []float64{1., 1.}, func(v []ad.Var) ad.Var {
		return v[0].Mul(v[0]).Add(v[0].Mul(v[1])).Add(v[1].Mul(v[1]))
	})
	hes, err := Hessian(f, []float64{1., 1.}, 1e-4)
	require.NoError(t, err)
	require.Len(t, hes, 2)
	assert.InDelta(t, 2., hes[0][0], 1e-4)
	assert.InDelta(t, 1., hes[0][1], 1e-4)
	assert.InDelta(t, 1., hes[1][0], 1e-4)
	assert.InDelta(t, 2., hes[1][1], 1e-4)
}

func TestRK4IntegrateExponentialDecay(t *testing.T) {
	// dx/dt = -x, x(0) = 1 -> x(t) = exp(-t)
	deriv := Derivative(func(_ float64, x []float64) []float64 {
		return []float64{-x[0]}
	})
	traj, err := RK4Integrate(deriv, 0., []float64{1.}, 0.01, 100)
	require.NoError(t, err)
	require.Len(t, traj, 101)
	assert.InDelta(t, math.Exp(-1.), traj[100][0], 1e-4)
}

func TestRK4IntegrateViaFunctionDerivative(t *testing.T) {
	// dx/dt = -2x recorded as an ad.Function
	f := recordScalar(t, []float64{0.}, func(v []ad.Var) ad.Var {
		return v[0].Neg().Mul(ad.Value(2.))
	})
	require.NoError(t, f.CapacityOrder(1, 1))
	deriv := FunctionDerivative(f)
	traj, err := RK4Integrate(deriv, 0., []float64{1.}, 0.005, 200)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-2.), traj[len(traj)-1][0], 1e-3)
}

func TestRombergQuadrature(t *testing.T) {
	// integral of sin(x) from 0 to pi is 2
	result, err := Romberg(math.Sin, 0, math.Pi, 1e-10, 12)
	require.NoError(t, err)
	assert.InDelta(t, 2., result, 1e-8)
}
