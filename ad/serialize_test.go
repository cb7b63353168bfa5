package ad

// Testing to_json's round trip (spec.md §6) and to_csrc's rendering.

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONRoundTrip(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		a := v[0].Mul(v[1])
		b := Sin(a)
		return []Var{b.Add(v[0])}
	})

	var buf bytes.Buffer
	require.NoError(t, f.ToJSON(&buf))

	loaded, err := FunctionFromJSON(&buf)
	require.NoError(t, err)

	assert.Equal(t, f.numVar, loaded.numVar)
	assert.Equal(t, f.recordingID, loaded.recordingID)
	require.NoError(t, loaded.CapacityOrder(1, 1))

	for _, x := range [][]float64{{2., 3.}, {-1., 0.5}} {
		want := evalAt(t, f, x)
		got := evalAt(t, loaded, x)
		assert.Equal(t, want, got, "x=%v", x)
	}
}

func TestToJSONRoundTripOptimized(t *testing.T) {
	f := record(t, []float64{1., 2., 3.}, func(v []Var) []Var {
		s := v[0].Add(v[1])
		s = s.Add(v[2])
		_ = v[0].Mul(v[1]) // dead
		return []Var{s}
	})
	opt, _ := f.Optimize(OptimizeOptions{})

	var buf bytes.Buffer
	require.NoError(t, opt.ToJSON(&buf))
	loaded, err := FunctionFromJSON(&buf)
	require.NoError(t, err)

	for _, x := range [][]float64{{1., 2., 3.}, {4., -1., 2.}} {
		want := evalAt(t, opt, x)
		got := evalAt(t, loaded, x)
		assert.Equal(t, want, got, "x=%v", x)
	}
}

func TestToCSRCRendersEveryOp(t *testing.T) {
	f := record(t, []float64{2., 3.}, func(v []Var) []Var {
		return []Var{v[0].Add(v[1]).Mul(v[0])}
	})

	var buf bytes.Buffer
	require.NoError(t, f.ToCSRC(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "// generated by to_csrc"))
	assert.Contains(t, out, "void eval(double *v")
	assert.Contains(t, out, "+")
	assert.Contains(t, out, "*")
}
