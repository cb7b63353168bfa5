// Package driver is the thin orchestration layer spec.md §1 calls out as
// an external collaborator of the core: Jacobian/Hessian assembly, a
// fixed-step explicit RK4 ODE integrator, and Romberg quadrature, all
// built by driving a sealed ad.Function through its public
// Forward/Reverse surface. None of it reaches back into ad's
// internals.
//
// Adapted from the teacher's infer/sgmcmc.go shape: a struct method that
// defers a panic-to-log recover and iterates, advancing state one step
// at a time. ad.Function's single-owner-goroutine rule (spec.md §5)
// means none of this package spawns the teacher's per-call goroutine
// over a shared Function — RK4Integrate and Romberg iterate on the
// caller's own goroutine instead, but keep the teacher's
// defer-recover-and-log error reporting around the iteration.
package driver

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gotape/gotape/ad"
)

var log = logrus.New()

// errBadUsagef wraps ad.ErrBadUsage with call-site context, the same
// sentinel-plus-errors.Wrap idiom ad/errors.go uses internally.
func errBadUsagef(format string, args ...interface{}) error {
	return errors.Wrap(ad.ErrBadUsage, fmt.Sprintf(format, args...))
}

// wrapPanic turns a recovered panic value into an error, so a bad
// Function (mismatched dimensions, an unsupported higher-order op) is
// reported to the caller rather than crashing the process.
func wrapPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "driver: recovered panic")
	}
	return fmt.Errorf("driver: recovered panic: %v", r)
}

// Gradient runs one Reverse sweep at order 0 and returns d(sum y)/dx,
// the m=1 case of Jacobian assembly: y must have exactly one dependent.
func Gradient(f *ad.Function, x []float64) (grad []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("driver: Gradient recovered")
			err = wrapPanic(r)
		}
	}()
	if f.NumDep() != 1 {
		return nil, errBadUsagef("driver: Gradient needs exactly one dependent, got %d", f.NumDep())
	}
	if err := f.CapacityOrder(1, 1); err != nil {
		return nil, err
	}
	if _, err := f.Forward(0, 0, 0, [][]float64{x}); err != nil {
		return nil, err
	}
	return f.Reverse(0, []float64{1.})
}

// Jacobian assembles the full m×n Jacobian of f at x by running one
// Reverse sweep per dependent row (spec.md §4.F's reverse(d,w) with a
// one-hot w), the standard reverse-mode assembly when m is not much
// larger than n.
func Jacobian(f *ad.Function, x []float64) (jac [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("driver: Jacobian recovered")
			err = wrapPanic(r)
		}
	}()
	m := f.NumDep()
	if err := f.CapacityOrder(1, 1); err != nil {
		return nil, err
	}
	if _, err := f.Forward(0, 0, 0, [][]float64{x}); err != nil {
		return nil, err
	}
	jac = make([][]float64, m)
	w := make([]float64, m)
	for i := 0; i < m; i++ {
		w[i] = 1
		row, err := f.Reverse(0, w)
		if err != nil {
			return nil, err
		}
		jac[i] = row
		w[i] = 0
	}
	return jac, nil
}

// Hessian approximates the Hessian of a scalar-valued f at x by
// central-differencing its exact analytic gradient (Gradient, above).
// Grounded scoping decision: reverse.go only carries arbitrary-order
// recurrences for Add/Sub/Neg/Mul, forward.go for a somewhat wider set
// (see their own doc comments), so a general second-order AD sweep isn't
// available for every recordable op; differencing the exact first-order
// gradient keeps Hessian assembly correct for any Function at the cost
// of O(n) extra gradient evaluations instead of one second-order sweep.
func Hessian(f *ad.Function, x []float64, step float64) (hes [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("driver: Hessian recovered")
			err = wrapPanic(r)
		}
	}()
	if step <= 0 {
		step = 1e-6
	}
	n := len(x)
	hes = make([][]float64, n)
	for i := range hes {
		hes[i] = make([]float64, n)
	}
	xp := append([]float64(nil), x...)
	xm := append([]float64(nil), x...)
	for j := 0; j < n; j++ {
		xp[j] = x[j] + step
		xm[j] = x[j] - step
		gp, err := Gradient(f, xp)
		if err != nil {
			return nil, err
		}
		gm, err := Gradient(f, xm)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			hes[i][j] = (gp[i] - gm[i]) / (2 * step)
		}
		xp[j], xm[j] = x[j], x[j]
	}
	// Symmetrize: the central difference above is not exactly symmetric
	// in floating point even though the true Hessian is.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := (hes[i][j] + hes[j][i]) / 2
			hes[i][j], hes[j][i] = avg, avg
		}
	}
	return hes, nil
}

// Derivative is a first-order ODE right-hand side dx/dt = f(t, x).
type Derivative func(t float64, x []float64) []float64

// FunctionDerivative adapts a sealed ad.Function of n independents to a
// Derivative, running a zero-order forward sweep per call and ignoring
// t (for an autonomous system f does not depend on t).
func FunctionDerivative(f *ad.Function) Derivative {
	return func(_ float64, x []float64) []float64 {
		if err := f.CapacityOrder(1, 1); err != nil {
			panic(err)
		}
		y, err := f.Forward(0, 0, 0, [][]float64{x})
		if err != nil {
			panic(err)
		}
		return y[0]
	}
}

// RK4Integrate advances x0 from t0 by steps of size h, using the
// classical explicit fourth-order Runge-Kutta method, and returns the
// state at every step (including x0 at index 0).
func RK4Integrate(deriv Derivative, t0 float64, x0 []float64, h float64, steps int) (traj [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("driver: RK4Integrate recovered")
			err = wrapPanic(r)
		}
	}()
	if steps < 0 {
		return nil, errBadUsagef("driver: RK4Integrate needs steps >= 0, got %d", steps)
	}
	n := len(x0)
	traj = make([][]float64, steps+1)
	traj[0] = append([]float64(nil), x0...)

	scratch := make([]float64, n)
	add := func(dst, a []float64, scale float64, b []float64) {
		for i := range dst {
			dst[i] = a[i] + scale*b[i]
		}
	}

	x := append([]float64(nil), x0...)
	t := t0
	for s := 0; s < steps; s++ {
		k1 := deriv(t, x)
		add(scratch, x, h/2, k1)
		k2 := deriv(t+h/2, scratch)
		add(scratch, x, h/2, k2)
		k3 := deriv(t+h/2, scratch)
		add(scratch, x, h, k3)
		k4 := deriv(t+h, scratch)

		next := make([]float64, n)
		for i := 0; i < n; i++ {
			next[i] = x[i] + h/6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
		}
		x = next
		t += h
		traj[s+1] = append([]float64(nil), x...)
	}
	return traj, nil
}

// Romberg integrates f over [a,b] by Richardson extrapolation of the
// trapezoidal rule, refining until two successive extrapolations agree
// within tol or maxLevel rows have been built.
func Romberg(f func(float64) float64, a, b, tol float64, maxLevel int) (result float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("driver: Romberg recovered")
			err = wrapPanic(r)
		}
	}()
	if maxLevel < 1 {
		maxLevel = 10
	}
	if tol <= 0 {
		tol = 1e-9
	}

	r := make([][]float64, maxLevel)
	h := b - a
	r[0] = []float64{h / 2 * (f(a) + f(b))}

	for i := 1; i < maxLevel; i++ {
		h /= 2
		sum := 0.0
		n := 1 << uint(i-1)
		for k := 0; k < n; k++ {
			sum += f(a + h*(2*float64(k)+1))
		}
		row := make([]float64, i+1)
		row[0] = 0.5*r[i-1][0] + h*sum
		for j := 1; j <= i; j++ {
			pow4 := math.Pow(4, float64(j))
			row[j] = row[j-1] + (row[j-1]-r[i-1][j-1])/(pow4-1)
		}
		r[i] = row
		if i > 0 && math.Abs(row[i]-r[i-1][i-1]) < tol {
			return row[i], nil
		}
	}
	return r[maxLevel-1][maxLevel-1], nil
}
