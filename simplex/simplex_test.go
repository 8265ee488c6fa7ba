package simplex

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"q.log/primal/config"
	"q.log/primal/model"
)

var inf = math.Inf(1)

type lp struct {
	c                  []float64
	a                  []float64
	colLower, colUpper []float64
	rowLower, rowUpper []float64
	maximize           bool
}

func (l lp) model(t *testing.T) *model.Model {
	t.Helper()
	m := model.NewModel(len(l.rowLower), len(l.c))
	require.NoError(t, m.SetC(l.c))
	require.NoError(t, m.SetA(l.a))
	require.NoError(t, m.SetRowBounds(l.rowLower, l.rowUpper))
	if l.colLower != nil {
		require.NoError(t, m.SetColBounds(l.colLower, l.colUpper))
	}
	m.Maximize = l.maximize
	return m
}

func debugOptions() config.Options {
	opts := config.Default()
	opts.Debug = true
	return opts
}

// recorder checks invariants of the solver state after every reported step.
type recorder struct {
	t          *testing.T
	p          *Primal
	iterations []IterationRecord
	rebuilds   []RebuildRecord
}

func (r *recorder) Iteration(rec IterationRecord) {
	r.iterations = append(r.iterations, rec)
	for i, w := range r.p.devexWeight {
		assert.GreaterOrEqual(r.t, w, 1.0, "devex weight of %d", i)
	}
	assert.NoError(r.t, r.p.debugPrimalSimplex("after iteration"))
}

func (r *recorder) Rebuild(rec RebuildRecord) {
	r.rebuilds = append(r.rebuilds, rec)
}

func solve(t *testing.T, m *model.Model, opts config.Options) (*Session, *recorder, Result) {
	t.Helper()
	s, err := NewSession(m, opts, nil)
	require.NoError(t, err)
	rec := &recorder{t: t}
	p := NewPrimal(s, rec)
	rec.p = p
	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	return s, rec, res
}

func TestSolveKnownOptima(t *testing.T) {
	tests := []struct {
		name      string
		lp        lp
		objective float64
		x         []float64
		phase1    bool
	}{
		{
			name: "feasible slack basis",
			// min -x - y s.t. x + y <= 4, x <= 3
			lp: lp{
				c:        []float64{-1, -1},
				a:        []float64{1, 1, 1, 0},
				rowLower: []float64{-inf, -inf},
				rowUpper: []float64{4, 3},
			},
			objective: -4,
		},
		{
			name: "needs phase 1",
			// min x + y s.t. x + y >= 2, x - y <= 1
			lp: lp{
				c:        []float64{1, 1},
				a:        []float64{1, 1, 1, -1},
				rowLower: []float64{2, -inf},
				rowUpper: []float64{inf, 1},
			},
			objective: 2,
			phase1:    true,
		},
		{
			name: "equality row",
			// min x + 2y s.t. x + y = 2
			lp: lp{
				c:        []float64{1, 2},
				a:        []float64{1, 1},
				rowLower: []float64{2},
				rowUpper: []float64{2},
			},
			objective: 2,
			x:         []float64{2, 0},
			phase1:    true,
		},
		{
			name: "maximize",
			// max 3x + 2y s.t. x + y <= 4, x + 3y <= 6, x <= 3
			lp: lp{
				c:        []float64{3, 2},
				a:        []float64{1, 1, 1, 3, 1, 0},
				rowLower: []float64{-inf, -inf, -inf},
				rowUpper: []float64{4, 6, 3},
				maximize: true,
			},
			objective: 11,
			x:         []float64{3, 1},
		},
		{
			name: "free column",
			// min x s.t. x >= -5, x free
			lp: lp{
				c:        []float64{1},
				a:        []float64{1},
				colLower: []float64{-inf},
				colUpper: []float64{inf},
				rowLower: []float64{-5},
				rowUpper: []float64{inf},
			},
			objective: -5,
			x:         []float64{-5},
		},
		{
			name: "boxed columns",
			// min -2x - y s.t. x + y <= 3, 0 <= x <= 1, 0 <= y <= 5
			lp: lp{
				c:        []float64{-2, -1},
				a:        []float64{1, 1},
				colLower: []float64{0, 0},
				colUpper: []float64{1, 5},
				rowLower: []float64{-inf},
				rowUpper: []float64{3},
			},
			objective: -4,
			x:         []float64{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.lp.model(t)
			s, _, res := solve(t, m, debugOptions())
			require.Equal(t, StatusOptimal, res.Status)
			assert.Equal(t, PhaseOptimal, res.Phase)
			assert.InDelta(t, tt.objective, res.Objective, 1e-9)

			sol := s.Solution()
			assert.InDelta(t, tt.objective, m.Objective(sol.ColValue), 1e-9)
			if tt.x != nil {
				assert.InDeltaSlice(t, tt.x, sol.ColValue, 1e-9)
			}
			if tt.phase1 {
				assert.Positive(t, res.Phase1Iterations)
			} else {
				assert.Zero(t, res.Phase1Iterations)
			}
			assert.Equal(t, res.Iterations, res.Phase1Iterations+res.Phase2Iterations)
			assert.Zero(t, res.NumPrimalInfeasibilities)
			assert.Zero(t, res.NumDualInfeasibilities)
		})
	}
}

func TestSolveUnbounded(t *testing.T) {
	// min -x s.t. x - y <= 1
	m := lp{
		c:        []float64{-1, 0},
		a:        []float64{1, -1},
		rowLower: []float64{-inf},
		rowUpper: []float64{1},
	}.model(t)
	_, rec, res := solve(t, m, debugOptions())
	assert.Equal(t, StatusPrimalUnbounded, res.Status)
	assert.Equal(t, PhaseExit, res.Phase)

	// the verdict is only reached from a fresh rebuild
	require.NotEmpty(t, rec.rebuilds)
	assert.Equal(t, HintPossiblyPrimalUnbounded, rec.rebuilds[len(rec.rebuilds)-1].Hint)
}

func TestSolveInfeasible(t *testing.T) {
	// x + y <= 1 and x + y >= 3
	m := lp{
		c:        []float64{1, 1},
		a:        []float64{1, 1, 1, 1},
		rowLower: []float64{-inf, 3},
		rowUpper: []float64{1, inf},
	}.model(t)
	_, _, res := solve(t, m, debugOptions())
	assert.Equal(t, StatusPrimalInfeasible, res.Status)
	assert.Equal(t, PhaseExit, res.Phase)
	assert.Positive(t, res.NumPrimalInfeasibilities)
	assert.InDelta(t, 2, res.SumPrimalInfeasibilities, 1e-6)
}

func TestBoundFlipLeavesBasisAlone(t *testing.T) {
	// min -x s.t. x + y <= 10, 0 <= x <= 2
	m := lp{
		c:        []float64{-1, 0},
		a:        []float64{1, 1},
		colLower: []float64{0, 0},
		colUpper: []float64{2, inf},
		rowLower: []float64{-inf},
		rowUpper: []float64{10},
	}.model(t)
	s, err := NewSession(m, debugOptions(), nil)
	require.NoError(t, err)
	basis := s.Basis()
	p := NewPrimal(s, nil)
	p.initialise()
	p.getNonbasicFreeColumnSet()
	p.solvePhase = Phase2
	p.rebuild()
	require.False(t, p.isPrimalPhase1)

	p.chooseColumn()
	require.Equal(t, 0, p.columnIn)
	p.chooseRow()
	require.Equal(t, 0, p.rowOut)
	p.phase2Update()

	assert.Equal(t, -1, p.rowOut)
	assert.Equal(t, 0, p.columnOut)
	assert.Equal(t, 2.0, s.workValue[0])
	assert.Equal(t, MoveDown, s.nonbasicMove[0])
	assert.Equal(t, 0, s.updateCount)
	assert.Equal(t, 0, s.factor.NumUpdates())
	assert.Equal(t, 0, s.iterationCount)
	assert.Equal(t, basis, s.Basis())
	assert.InDelta(t, -2, s.baseValue[0], 1e-12)
	assert.Equal(t, 1, p.numFlipSinceRebuild)

	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, -2, res.Objective, 1e-12)
	assert.Zero(t, res.Iterations)
}

func TestChooseRowIgnoresTinyPivots(t *testing.T) {
	// min -x s.t. 1e-12 x <= 1
	m := lp{
		c:        []float64{-1},
		a:        []float64{1e-12},
		rowLower: []float64{-inf},
		rowUpper: []float64{1},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)
	p.initialise()
	p.solvePhase = Phase2
	p.rebuild()

	p.chooseColumn()
	require.Equal(t, 0, p.columnIn)
	p.chooseRow()
	assert.Equal(t, -1, p.rowOut)

	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPrimalUnbounded, res.Status)
}

func TestPhase1ChooseRowIgnoresTinyPivots(t *testing.T) {
	// x + 1e-12 y >= 1 with x fixed at 0
	m := lp{
		c:        []float64{0, 0},
		a:        []float64{1, 1e-12},
		colLower: []float64{0, 0},
		colUpper: []float64{0, inf},
		rowLower: []float64{1},
		rowUpper: []float64{inf},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)
	p.initialise()
	p.solvePhase = Phase1
	p.rebuild()
	require.True(t, p.isPrimalPhase1)

	// y is the only column that can move
	p.columnIn = 1
	p.phase1ChooseRow()
	assert.Equal(t, -1, p.rowOut)
	assert.Equal(t, -1, p.columnOut)
}

func TestFreeColumnSet(t *testing.T) {
	// min x - y s.t. x + y >= 1, x - y >= -1, both free
	m := lp{
		c:        []float64{1, -1},
		a:        []float64{1, 1, 1, -1},
		colLower: []float64{-inf, -inf},
		colUpper: []float64{inf, inf},
		rowLower: []float64{1, -1},
		rowUpper: []float64{inf, inf},
	}.model(t)
	s, err := NewSession(m, debugOptions(), nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)
	p.initialise()
	p.getNonbasicFreeColumnSet()
	assert.ElementsMatch(t, []int{0, 1}, p.nonbasicFreeColSet.Entries())

	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, -1, res.Objective, 1e-9)
	assert.NoError(t, p.debugPrimalSimplex("after solve"))
}

func TestBailoutAndResume(t *testing.T) {
	m := lp{
		c:        []float64{3, 2},
		a:        []float64{1, 1, 1, 3, 1, 0},
		rowLower: []float64{-inf, -inf, -inf},
		rowUpper: []float64{4, 6, 3},
		maximize: true,
	}.model(t)
	opts := config.Default()
	opts.IterationLimit = 1
	s, err := NewSession(m, opts, nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)

	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusBailout, res.Status)
	assert.Equal(t, 1, res.Iterations)

	s.opts.IterationLimit = 0
	res, err = p.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, 11, res.Objective, 1e-9)
}

func TestBailoutOnCancelledContext(t *testing.T) {
	m := lp{
		c:        []float64{-1, -1},
		a:        []float64{1, 1, 1, 0},
		rowLower: []float64{-inf, -inf},
		rowUpper: []float64{4, 3},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewPrimal(s, nil).Solve(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusBailout, res.Status)
	assert.Zero(t, res.Iterations)
}

func TestSolveNoRows(t *testing.T) {
	m := model.NewModel(0, 2)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	res, err := NewPrimal(s, nil).Solve(context.Background())
	assert.ErrorIs(t, err, ErrNoRows)
	assert.Equal(t, StatusError, res.Status)
}

func TestSetBasis(t *testing.T) {
	m := lp{
		c:        []float64{1, 1},
		a:        []float64{1, 1, 1, 1},
		rowLower: []float64{-inf, -inf},
		rowUpper: []float64{4, 5},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetBasis([]int{2}), ErrInvalidBasis)
	assert.ErrorIs(t, s.SetBasis([]int{2, 2}), ErrInvalidBasis)
	assert.ErrorIs(t, s.SetBasis([]int{0, 4}), ErrInvalidBasis)
	assert.ErrorIs(t, s.SetBasis([]int{0, 1}), ErrSingularBasis)

	require.NoError(t, s.SetBasis([]int{0, 3}))
	assert.Equal(t, []int{0, 3}, s.Basis())
	// row 0 at its upper bound with y nonbasic at zero
	assert.InDelta(t, 4, s.baseValue[0], 1e-12)
	assert.InDelta(t, -4, s.baseValue[1], 1e-12)
}

// randomLP returns a feasible LP with boxed columns, so it has an optimum.
func randomLP(rng *rand.Rand, numRow, numCol int) lp {
	l := lp{
		c:        make([]float64, numCol),
		a:        make([]float64, numRow*numCol),
		colLower: make([]float64, numCol),
		colUpper: make([]float64, numCol),
		rowLower: make([]float64, numRow),
		rowUpper: make([]float64, numRow),
	}
	x := make([]float64, numCol)
	for c := range numCol {
		l.c[c] = 10*rng.Float64() - 5
		l.colUpper[c] = 10
		x[c] = 10 * rng.Float64()
	}
	for r := range numRow {
		activity := 0.0
		for c := range numCol {
			if rng.Float64() < 0.5 {
				v := 1 + 4*rng.Float64()
				l.a[r*numCol+c] = v
				activity += v * x[c]
			}
		}
		switch r % 3 {
		case 0:
			l.rowLower[r] = activity - 5*rng.Float64()
			l.rowUpper[r] = inf
		case 1:
			l.rowLower[r] = -inf
			l.rowUpper[r] = activity + 5*rng.Float64()
		default:
			l.rowLower[r] = activity - rng.Float64()
			l.rowUpper[r] = activity + rng.Float64()
		}
	}
	return l
}

func TestRandomLPsReachOptimality(t *testing.T) {
	const tol = 1e-6
	rng := rand.New(rand.NewSource(7))
	for trial := range 20 {
		m := randomLP(rng, 8, 12).model(t)
		opts := debugOptions()
		opts.IterationLimit = 1000
		s, rec, res := solve(t, m, opts)
		require.Equal(t, StatusOptimal, res.Status, "trial %d", trial)

		sol := s.Solution()
		assert.InDelta(t, m.Objective(sol.ColValue), res.Objective, tol, "trial %d", trial)
		activity := m.RowActivity(sol.ColValue)
		for r := range m.NumRows {
			assert.InDelta(t, activity[r], sol.RowValue[r], tol)
			assert.GreaterOrEqual(t, activity[r], m.RowLower[r]-tol, "trial %d row %d", trial, r)
			assert.LessOrEqual(t, activity[r], m.RowUpper[r]+tol, "trial %d row %d", trial, r)
			switch {
			case m.RowLower[r] == m.RowUpper[r]:
			case math.Abs(activity[r]-m.RowUpper[r]) < tol:
				assert.LessOrEqual(t, sol.RowDual[r], tol)
			case math.Abs(activity[r]-m.RowLower[r]) < tol:
				assert.GreaterOrEqual(t, sol.RowDual[r], -tol)
			default:
				assert.InDelta(t, 0, sol.RowDual[r], tol)
			}
		}
		for c := range m.NumCols {
			x := sol.ColValue[c]
			assert.GreaterOrEqual(t, x, m.ColLower[c]-tol)
			assert.LessOrEqual(t, x, m.ColUpper[c]+tol)
			switch {
			case math.Abs(x-m.ColLower[c]) < tol:
				assert.GreaterOrEqual(t, sol.ColDual[c], -tol)
			case math.Abs(x-m.ColUpper[c]) < tol:
				assert.LessOrEqual(t, sol.ColDual[c], tol)
			default:
				assert.InDelta(t, 0, sol.ColDual[c], tol)
			}
		}

		// the sum of infeasibilities never rises between pivots of a phase 1
		// run on fresh data
		last := math.Inf(1)
		next := 0
		for _, it := range rec.iterations {
			if it.Phase != Phase1 || it.Flipped || !it.PrimalCurrent {
				continue
			}
			for next < len(rec.rebuilds) && rec.rebuilds[next].Iteration <= it.Iteration-1 {
				last = math.Inf(1)
				next++
			}
			assert.LessOrEqual(t, it.SumPrimalInfeasibilities, last+1e-5, "trial %d iteration %d", trial, it.Iteration)
			last = it.SumPrimalInfeasibilities
		}
	}
}

func TestUpdateLimitForcesRebuild(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m := randomLP(rng, 10, 15).model(t)
	opts := debugOptions()
	opts.UpdateLimit = 2
	_, rec, res := solve(t, m, opts)
	require.Equal(t, StatusOptimal, res.Status)
	for _, rb := range rec.rebuilds {
		assert.LessOrEqual(t, rb.UpdateCount, 2)
		if rb.Hint == HintUpdateLimitReached && rb.UpdateCount > 0 {
			assert.True(t, rb.Reinverted)
		}
	}
}

func TestUpdateVerifyEscalates(t *testing.T) {
	m := lp{
		c:        []float64{-1},
		a:        []float64{1},
		rowLower: []float64{-inf},
		rowUpper: []float64{1},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)
	p.initialise()
	p.columnIn = 0
	p.rowOut = 0

	p.alphaCol = 1
	p.rowAp.Set(0, 1+1e-9)
	assert.True(t, p.updateVerify())
	assert.Equal(t, HintNone, p.rebuildHint)

	p.rowAp.Set(0, 2)
	assert.False(t, p.updateVerify())
	assert.Equal(t, HintPossiblySingularBasis, p.rebuildHint)
	assert.NotEqual(t, PhaseError, p.solvePhase)

	assert.False(t, p.updateVerify())
	assert.Equal(t, PhaseError, p.solvePhase)
	assert.ErrorIs(t, p.err, ErrNumericalTrouble)
}

func TestDevexResetAfterBadWeights(t *testing.T) {
	m := lp{
		c:        []float64{-1, -1},
		a:        []float64{1, 1, 1, 0},
		rowLower: []float64{-inf, -inf},
		rowUpper: []float64{4, 3},
	}.model(t)
	s, err := NewSession(m, config.Default(), nil)
	require.NoError(t, err)
	p := NewPrimal(s, nil)
	p.initialise()
	for i := range p.devexWeight {
		assert.Equal(t, 1.0, p.devexWeight[i])
	}
	// structurals are nonbasic and form the reference framework
	assert.Equal(t, []int{1, 1, 0, 0}, p.devexIndex)

	p.devexWeight[0] = 50
	p.numBadDevexWeight = 4
	p.devexReset()
	assert.Equal(t, 1.0, p.devexWeight[0])
	assert.Zero(t, p.numBadDevexWeight)
	assert.Zero(t, p.numDevexIterations)
}
