package factor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"q.log/primal/matrix"
	"q.log/primal/model"
	"q.log/primal/sparse"
)

type harness struct {
	t        *testing.T
	a        *matrix.Matrix
	f        *Factor
	numRow   int
	numCol   int
	basic    []int
	solution []float64
	rhs      *sparse.Vector
	aq       *sparse.Vector
	ep       *sparse.Vector
}

// newHarness builds a sparse random constraint matrix with a slack basis,
// and a random solution vector the solves are checked against.
func newHarness(t *testing.T, numRow, numCol int, seed int64) *harness {
	rng := rand.New(rand.NewSource(seed))
	m := model.NewModel(numRow, numCol)
	for c := range numCol {
		m.A.Set(rng.Intn(numRow), c, 1+rng.Float64())
		for range 3 {
			m.A.Set(rng.Intn(numRow), c, rng.NormFloat64())
		}
	}
	h := &harness{
		t:        t,
		a:        matrix.New(m),
		f:        New(numRow),
		numRow:   numRow,
		numCol:   numCol,
		basic:    make([]int, numRow),
		solution: make([]float64, numRow),
		rhs:      sparse.NewVector(numRow),
		aq:       sparse.NewVector(numRow),
		ep:       sparse.NewVector(numRow),
	}
	for r := range numRow {
		h.basic[r] = numCol + r
		h.solution[r] = rng.Float64()
	}
	h.build()
	return h
}

func (h *harness) build() {
	deficiency, err := h.f.Build(h.a, h.basic)
	require.NoError(h.t, err)
	require.Zero(h.t, deficiency)
}

func (h *harness) rowOut(variableOut int) int {
	for r, v := range h.basic {
		if v == variableOut {
			return r
		}
	}
	return -1
}

func (h *harness) isBasic(iVar int) bool {
	return h.rowOut(iVar) >= 0
}

// choose picks the next nonbasic variable whose FTRAN'd column has a large
// enough entry, and the row where that entry is largest.
func (h *harness) choose(k int) (variableOut, variableIn int) {
	numTot := h.numCol + h.numRow
	for try := range numTot {
		in := (7*k + try) % numTot
		if h.isBasic(in) {
			continue
		}
		h.aq.Clear()
		h.a.CollectColumn(h.aq, in, 1)
		require.NoError(h.t, h.f.Ftran(h.aq))
		row, best := -1, 0.0
		for _, r := range h.aq.Nonzeros() {
			if math.Abs(h.aq.Array[r]) > best {
				row, best = r, math.Abs(h.aq.Array[r])
			}
		}
		if best > 0.5 {
			return h.basic[row], in
		}
	}
	h.t.Fatalf("no pivot for step %d", k)
	return -1, -1
}

func (h *harness) iterate(variableOut, variableIn int) {
	row := h.rowOut(variableOut)
	require.GreaterOrEqual(h.t, row, 0, "variable %d is not basic", variableOut)

	h.ep.Clear()
	h.ep.Set(row, 1)
	require.NoError(h.t, h.f.Btran(h.ep))

	h.aq.Clear()
	h.a.CollectColumn(h.aq, variableIn, 1)
	require.NoError(h.t, h.f.Ftran(h.aq))

	h.basic[row] = variableIn
	require.Equal(h.t, ReasonNone, h.f.Update(h.aq, h.ep, row))
	h.checkSolve()
}

func (h *harness) checkSolve() {
	h.rhs.Clear()
	for r := range h.numRow {
		h.a.CollectColumn(h.rhs, h.basic[r], h.solution[r])
	}
	require.NoError(h.t, h.f.Ftran(h.rhs))
	require.Less(h.t, h.maxError(), 1e-4, "ftran")

	h.rhs.Clear()
	for r := range h.numRow {
		h.rhs.Set(r, h.a.Dot(h.solution, h.basic[r]))
	}
	require.NoError(h.t, h.f.Btran(h.rhs))
	require.Less(h.t, h.maxError(), 1e-4, "btran")
}

func (h *harness) maxError() float64 {
	var worst float64
	for r := range h.numRow {
		worst = math.Max(worst, math.Abs(h.solution[r]-h.rhs.Array[r]))
	}
	return worst
}

func TestInvertRoundTrip(t *testing.T) {
	h := newHarness(t, 40, 60, 11)

	const snapshotAt, total = 65, 80
	for k := range snapshotAt {
		if k == 50 {
			h.build()
		}
		h.iterate(h.choose(k))
	}

	savedBasic := append([]int(nil), h.basic...)
	inv := h.f.Invert()

	type pair struct{ out, in int }
	var replay []pair
	for k := snapshotAt; k < total; k++ {
		out, in := h.choose(k)
		replay = append(replay, pair{out, in})
		h.iterate(out, in)
	}

	copy(h.basic, savedBasic)
	require.NoError(t, h.f.SetInvert(inv))
	assert.Equal(t, snapshotAt-50, h.f.NumUpdates())
	h.checkSolve()

	for _, p := range replay {
		h.iterate(p.out, p.in)
	}
	assert.Equal(t, total-50, h.f.NumUpdates())
}

func TestBuildReportsRankDeficiency(t *testing.T) {
	m := model.NewModel(3, 2)
	require.NoError(t, m.SetA([]float64{1, 2, 3, 4, 0, 0}))
	a := matrix.New(m)
	f := New(3)

	deficiency, err := f.Build(a, []int{0, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, 1, deficiency)

	deficiency, err = f.Build(a, []int{0, 1, 4})
	require.NoError(t, err)
	assert.Zero(t, deficiency)

	_, err = f.Build(a, []int{0})
	assert.True(t, errors.Is(err, ErrDimension))
}

func TestUpdateRejectsTinyPivot(t *testing.T) {
	h := newHarness(t, 4, 3, 5)
	aq := sparse.NewVector(4)
	ep := sparse.NewVector(4)
	aq.Set(1, 1e-14)
	aq.Set(2, 1)
	ep.Set(1, 1)
	assert.Equal(t, ReasonPossiblySingular, h.f.Update(aq, ep, 1))
	assert.Zero(t, h.f.NumUpdates())
}

func TestSolveWithoutBuild(t *testing.T) {
	f := New(3)
	assert.True(t, errors.Is(f.Ftran(sparse.NewVector(3)), ErrNoInvert))
	assert.True(t, errors.Is(f.SetInvert(&Invert{numRow: 2}), ErrDimension))
}
