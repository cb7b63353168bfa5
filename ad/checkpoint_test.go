package ad

// Testing checkpointing (component L): a checkpointed Function must
// behave, from an outer tape's perspective, exactly like recording its
// body inline — same values, same gradient — while giving each call_id
// its own private workspace.

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square2(x []Var) []Var {
	return []Var{x[0].Mul(x[0]).Add(x[1].Mul(x[1]))}
}

func TestCheckpointMatchesInline(t *testing.T) {
	atomicIdx, err := Checkpoint(square2, 2)
	require.NoError(t, err)

	inline := record(t, []float64{3., 4.}, square2)
	viaCheckpoint := record(t, []float64{3., 4.}, func(v []Var) []Var {
		out, err := CallAtomic(atomicIdx, 1, v)
		require.NoError(t, err)
		return out
	})

	for _, x := range [][]float64{{3., 4.}, {-1., 2.}, {0., 0.}} {
		want := evalAt(t, inline, x)
		got := evalAt(t, viaCheckpoint, x)
		assert.Equal(t, want, got, "x=%v", x)
	}

	require.NoError(t, viaCheckpoint.CapacityOrder(1, 1))
	_, err = viaCheckpoint.Forward(0, 0, 0, [][]float64{{3., 4.}})
	require.NoError(t, err)
	dw, err := viaCheckpoint.Reverse(0, []float64{1.})
	require.NoError(t, err)
	assert.Equal(t, []float64{6., 8.}, dw)
}

// TestCheckpointDistinctCallIDsDontRace exercises checkpointAtomic's one
// clone per call_id: two goroutines driving two different outer
// Functions that both call the same registered checkpoint, under
// distinct call_ids, must not corrupt each other's workspace.
func TestCheckpointDistinctCallIDsDontRace(t *testing.T) {
	atomicIdx, err := Checkpoint(square2, 2)
	require.NoError(t, err)

	const n = 8
	results := make([][]float64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x := []float64{float64(i), float64(i + 1)}
			indep := Independent(x)
			out, err := CallAtomic(atomicIdx, i, indep)
			if err != nil {
				errs[i] = err
				return
			}
			f, err := Dependent(out)
			if err != nil {
				errs[i] = err
				return
			}
			y, err := f.Forward(0, 0, 0, [][]float64{x})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = y[0]
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	for i := 0; i < n; i++ {
		want := float64(i)*float64(i) + float64(i+1)*float64(i+1)
		require.Len(t, results[i], 1)
		assert.Equal(t, want, results[i][0])
	}
}
