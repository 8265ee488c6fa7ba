package simplex

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"q.log/primal/config"
	"q.log/primal/factor"
	"q.log/primal/matrix"
	"q.log/primal/model"
	"q.log/primal/sparse"
)

var (
	ErrNoRows            = errors.New("simplex: model has no rows")
	ErrNoInvert          = errors.New("simplex: basis is not factorized")
	ErrSingularBasis     = errors.New("simplex: singular basis matrix")
	ErrChooseRow         = errors.New("simplex: phase 1 choose row failed")
	ErrNumericalTrouble  = errors.New("simplex: pivot disagreement persists after rebuild")
	ErrInconsistentState = errors.New("simplex: inconsistent solver state")
	ErrInvalidBasis      = errors.New("simplex: invalid basis")
)

// Session owns everything one solve mutates: the work and base vectors, the
// basis, the factorization and the counters. Variables [0, numCol) are the
// structurals, [numCol, numTot) the logicals, one per row, with unit column
// and bounds [-rowUpper, -rowLower].
type Session struct {
	model  *model.Model
	matrix *matrix.Matrix
	factor *factor.Factor
	opts   config.Options
	logger *zap.Logger

	numCol int
	numRow int
	numTot int

	// costSense is -1 when maximizing.
	costSense float64

	basicIndex   []int
	nonbasicFlag []int
	nonbasicMove []int

	workCost        []float64
	workLower       []float64
	workUpper       []float64
	workValue       []float64
	workDual        []float64
	workDualUpdated []float64

	baseLower        []float64
	baseUpper        []float64
	baseValue        []float64
	baseValueUpdated []float64

	buffer     *sparse.Vector
	bufferLong *sparse.Vector

	hasInvert               bool
	hasFreshRebuild         bool
	hasPrimalObjectiveValue bool
	updateCount             int
	iterationCount          int

	numPrimalInfeasibilities int
	maxPrimalInfeasibility   float64
	sumPrimalInfeasibilities float64
	numDualInfeasibilities   int
	maxDualInfeasibility     float64
	sumDualInfeasibilities   float64

	primalObjectiveValue        float64
	updatedPrimalObjectiveValue float64

	start   time.Time
	bailout bool
	status  ModelStatus
}

// NewSession sets up a session for m with every logical basic and the basis
// factorized. A nil logger discards messages.
func NewSession(m *model.Model, opts config.Options, logger *zap.Logger) (*Session, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		model:     m,
		matrix:    matrix.New(m),
		factor:    factor.New(m.NumRows),
		opts:      opts,
		logger:    logger,
		numCol:    m.NumCols,
		numRow:    m.NumRows,
		numTot:    m.NumCols + m.NumRows,
		costSense: 1,
	}
	if m.Maximize {
		s.costSense = -1
	}

	s.basicIndex = make([]int, s.numRow)
	s.nonbasicFlag = make([]int, s.numTot)
	s.nonbasicMove = make([]int, s.numTot)
	s.workCost = make([]float64, s.numTot)
	s.workLower = make([]float64, s.numTot)
	s.workUpper = make([]float64, s.numTot)
	s.workValue = make([]float64, s.numTot)
	s.workDual = make([]float64, s.numTot)
	s.workDualUpdated = make([]float64, s.numTot)
	s.baseLower = make([]float64, s.numRow)
	s.baseUpper = make([]float64, s.numRow)
	s.baseValue = make([]float64, s.numRow)
	s.baseValueUpdated = make([]float64, s.numRow)
	s.buffer = sparse.NewVector(s.numRow)
	s.bufferLong = sparse.NewVector(s.numCol)

	if s.numRow == 0 {
		return s, nil
	}
	basic := make([]int, s.numRow)
	for r := range basic {
		basic[r] = s.numCol + r
	}
	if err := s.SetBasis(basic); err != nil {
		return nil, err
	}
	return s, nil
}

// SetBasis makes basic[r] the basic variable of row r, puts every other
// variable at a bound and factorizes.
func (s *Session) SetBasis(basic []int) error {
	if len(basic) != s.numRow {
		return errors.Wrapf(ErrInvalidBasis, "%d basic variables for %d rows", len(basic), s.numRow)
	}
	for i := range s.nonbasicFlag {
		s.nonbasicFlag[i] = 1
	}
	for r, iVar := range basic {
		if iVar < 0 || iVar >= s.numTot || s.nonbasicFlag[iVar] == 0 {
			return errors.Wrapf(ErrInvalidBasis, "row %d: variable %d", r, iVar)
		}
		s.nonbasicFlag[iVar] = 0
	}
	copy(s.basicIndex, basic)
	s.matrix.SetPartition(s.nonbasicFlag)

	s.initialiseBound()
	s.initialiseCost()
	s.initialiseValueAndNonbasicMove()

	deficiency, err := s.computeFactor()
	if err != nil {
		return err
	}
	if deficiency > 0 {
		s.hasInvert = false
		return errors.Wrapf(ErrSingularBasis, "rank deficiency %d", deficiency)
	}
	return s.computePrimal()
}

func (s *Session) initialiseBound() {
	for c := range s.numCol {
		s.workLower[c] = s.model.ColLower[c]
		s.workUpper[c] = s.model.ColUpper[c]
	}
	for r := range s.numRow {
		s.workLower[s.numCol+r] = -s.model.RowUpper[r]
		s.workUpper[s.numCol+r] = -s.model.RowLower[r]
	}
	for r, iVar := range s.basicIndex {
		s.baseLower[r] = s.workLower[iVar]
		s.baseUpper[r] = s.workUpper[iVar]
	}
}

func (s *Session) initialiseCost() {
	for c := range s.numCol {
		s.workCost[c] = s.costSense * s.model.Cost(c)
	}
	for i := s.numCol; i < s.numTot; i++ {
		s.workCost[i] = 0
	}
}

// initialiseValueAndNonbasicMove puts each nonbasic variable at a bound:
// the lower one when both are finite, zero when free.
func (s *Session) initialiseValueAndNonbasicMove() {
	for i := range s.numTot {
		if s.nonbasicFlag[i] == 0 {
			s.nonbasicMove[i] = MoveZero
			continue
		}
		lower, upper := s.workLower[i], s.workUpper[i]
		switch {
		case lower == upper:
			s.workValue[i] = lower
			s.nonbasicMove[i] = MoveZero
		case !math.IsInf(lower, -1):
			s.workValue[i] = lower
			s.nonbasicMove[i] = MoveUp
		case !math.IsInf(upper, 1):
			s.workValue[i] = upper
			s.nonbasicMove[i] = MoveDown
		default:
			s.workValue[i] = 0
			s.nonbasicMove[i] = MoveZero
		}
	}
}

func (s *Session) computeFactor() (int, error) {
	deficiency, err := s.factor.Build(s.matrix, s.basicIndex)
	if err != nil {
		return 0, err
	}
	s.hasInvert = deficiency == 0
	s.updateCount = 0
	return deficiency, nil
}

// computePrimal solves B x_B = -N x_N from scratch.
func (s *Session) computePrimal() error {
	s.buffer.Clear()
	for i := range s.numTot {
		if s.nonbasicFlag[i] != 0 && s.workValue[i] != 0 {
			s.matrix.CollectColumn(s.buffer, i, s.workValue[i])
		}
	}
	if err := s.factor.Ftran(s.buffer); err != nil {
		return errors.Wrap(err, "compute primal")
	}
	for r := range s.numRow {
		s.baseValue[r] = -s.buffer.Array[r]
	}
	return nil
}

// computeDual sets the reduced costs of the nonbasic variables for the
// current workCost.
func (s *Session) computeDual() error {
	s.buffer.Clear()
	for r, iVar := range s.basicIndex {
		s.buffer.Set(r, s.workCost[iVar])
	}
	if err := s.fullBtran(s.buffer); err != nil {
		return errors.Wrap(err, "compute dual")
	}
	s.fullPrice(s.buffer, s.bufferLong)
	for i := range s.numTot {
		s.workDual[i] = 0
	}
	for c := range s.numCol {
		if s.nonbasicFlag[c] != 0 {
			s.workDual[c] = s.workCost[c] - s.bufferLong.Array[c]
		}
	}
	for r := range s.numRow {
		i := s.numCol + r
		if s.nonbasicFlag[i] != 0 {
			s.workDual[i] = s.workCost[i] - s.buffer.Array[r]
		}
	}
	return nil
}

// computeSimplexPrimalInfeasible counts bound violations of both nonbasic
// and basic variables.
func (s *Session) computeSimplexPrimalInfeasible() {
	tol := s.opts.PrimalFeasibilityTolerance
	s.numPrimalInfeasibilities = 0
	s.maxPrimalInfeasibility = 0
	s.sumPrimalInfeasibilities = 0
	record := func(value, lower, upper float64) {
		infeasibility := math.Max(lower-value, value-upper)
		if infeasibility <= 0 {
			return
		}
		if infeasibility > tol {
			s.numPrimalInfeasibilities++
		}
		s.maxPrimalInfeasibility = math.Max(s.maxPrimalInfeasibility, infeasibility)
		s.sumPrimalInfeasibilities += infeasibility
	}
	for i := range s.numTot {
		if s.nonbasicFlag[i] != 0 {
			record(s.workValue[i], s.workLower[i], s.workUpper[i])
		}
	}
	for r := range s.numRow {
		record(s.baseValue[r], s.baseLower[r], s.baseUpper[r])
	}
}

// computeSimplexDualInfeasible counts nonbasic reduced costs of the wrong
// sign for their move direction, and nonzero reduced costs of free
// variables.
func (s *Session) computeSimplexDualInfeasible() {
	tol := s.opts.DualFeasibilityTolerance
	s.numDualInfeasibilities = 0
	s.maxDualInfeasibility = 0
	s.sumDualInfeasibilities = 0
	for i := range s.numTot {
		if s.nonbasicFlag[i] == 0 {
			continue
		}
		lower, upper := s.workLower[i], s.workUpper[i]
		var infeasibility float64
		switch {
		case math.IsInf(lower, -1) && math.IsInf(upper, 1):
			infeasibility = math.Abs(s.workDual[i])
		case lower == upper:
			continue
		default:
			infeasibility = -float64(s.nonbasicMove[i]) * s.workDual[i]
		}
		if infeasibility <= 0 {
			continue
		}
		if infeasibility > tol {
			s.numDualInfeasibilities++
		}
		s.maxDualInfeasibility = math.Max(s.maxDualInfeasibility, infeasibility)
		s.sumDualInfeasibilities += infeasibility
	}
}

// computePrimalObjectiveValue evaluates the true objective, in the
// minimization sense and without offset, at the current point.
func (s *Session) computePrimalObjectiveValue() {
	var objective float64
	for r, iVar := range s.basicIndex {
		if iVar < s.numCol {
			objective += s.costSense * s.model.Cost(iVar) * s.baseValue[r]
		}
	}
	for c := range s.numCol {
		if s.nonbasicFlag[c] != 0 {
			objective += s.costSense * s.model.Cost(c) * s.workValue[c]
		}
	}
	s.primalObjectiveValue = objective
	s.hasPrimalObjectiveValue = true
}

// pivotColumnFtran forms B^-1 a_q for variable iCol.
func (s *Session) pivotColumnFtran(iCol int, colAq *sparse.Vector) error {
	colAq.Clear()
	s.matrix.CollectColumn(colAq, iCol, 1)
	return s.factor.Ftran(colAq)
}

// unitBtran forms row iRow of B^-1.
func (s *Session) unitBtran(iRow int, rowEp *sparse.Vector) error {
	rowEp.Clear()
	rowEp.Set(iRow, 1)
	return s.factor.Btran(rowEp)
}

func (s *Session) fullBtran(buffer *sparse.Vector) error {
	return s.factor.Btran(buffer)
}

func (s *Session) fullPrice(buffer, bufferLong *sparse.Vector) {
	s.matrix.PriceByColumn(bufferLong, buffer)
}

// tableauRowPrice forms the structural part of the tableau row from rowEp.
func (s *Session) tableauRowPrice(rowEp, rowAp *sparse.Vector) {
	s.matrix.Price(rowAp, rowEp)
}

// updatePivots swaps columnIn into the basis at rowOut. The leaving variable
// goes to its lower bound when sourceOut is -1, its upper bound otherwise.
func (s *Session) updatePivots(columnIn, rowOut, sourceOut int) int {
	columnOut := s.basicIndex[rowOut]

	s.basicIndex[rowOut] = columnIn
	s.nonbasicFlag[columnIn] = 0
	s.nonbasicMove[columnIn] = MoveZero
	s.baseLower[rowOut] = s.workLower[columnIn]
	s.baseUpper[rowOut] = s.workUpper[columnIn]

	s.nonbasicFlag[columnOut] = 1
	lower, upper := s.workLower[columnOut], s.workUpper[columnOut]
	switch {
	case lower == upper:
		s.workValue[columnOut] = lower
		s.nonbasicMove[columnOut] = MoveZero
	case math.IsInf(lower, -1) && math.IsInf(upper, 1):
		s.workValue[columnOut] = 0
		s.nonbasicMove[columnOut] = MoveZero
	case sourceOut == -1 && !math.IsInf(lower, -1), math.IsInf(upper, 1):
		s.workValue[columnOut] = lower
		s.nonbasicMove[columnOut] = MoveUp
	default:
		s.workValue[columnOut] = upper
		s.nonbasicMove[columnOut] = MoveDown
	}

	s.hasFreshRebuild = false
	return columnOut
}

// updateFactor applies the basis change to the factorization. The update
// counts even when it is refused so that the next rebuild refactorizes.
func (s *Session) updateFactor(colAq, rowEp *sparse.Vector, rowOut int) RebuildHint {
	reason := s.factor.Update(colAq, rowEp, rowOut)
	s.updateCount++
	if reason != factor.ReasonNone {
		return HintPossiblySingularBasis
	}
	return HintNone
}

func (s *Session) updateMatrix(columnIn, columnOut int) {
	s.matrix.UpdatePartition(columnIn, columnOut)
}

// bailoutOnTimeIterations reports whether the iteration limit, the time
// limit or ctx ends the solve.
func (s *Session) bailoutOnTimeIterations(ctx context.Context) bool {
	if s.bailout {
		return true
	}
	switch {
	case s.opts.IterationLimit > 0 && s.iterationCount >= s.opts.IterationLimit:
		s.bailout = true
	case s.opts.TimeLimit.Duration > 0 && time.Since(s.start) >= s.opts.TimeLimit.Duration:
		s.bailout = true
	case ctx.Err() != nil:
		s.bailout = true
	}
	if s.bailout {
		s.status = StatusBailout
	}
	return s.bailout
}

// objective is the updated objective in the model's sense, with offset.
func (s *Session) objective() float64 {
	return s.costSense*s.updatedPrimalObjectiveValue + s.model.Offset
}

// Solution is a primal/dual point in model space.
type Solution struct {
	ColValue []float64
	RowValue []float64
	ColDual  []float64
	RowDual  []float64
}

// Solution returns the current basic solution. Row values are activities
// Ax; duals are in the model's objective sense.
func (s *Session) Solution() Solution {
	value := make([]float64, s.numTot)
	copy(value, s.workValue)
	for r, iVar := range s.basicIndex {
		value[iVar] = s.baseValue[r]
	}
	sol := Solution{
		ColValue: value[:s.numCol],
		RowValue: make([]float64, s.numRow),
		ColDual:  make([]float64, s.numCol),
		RowDual:  make([]float64, s.numRow),
	}
	for c := range s.numCol {
		if s.nonbasicFlag[c] != 0 {
			sol.ColDual[c] = s.costSense * s.workDual[c]
		}
	}
	for r := range s.numRow {
		i := s.numCol + r
		sol.RowValue[r] = -value[i]
		if s.nonbasicFlag[i] != 0 {
			sol.RowDual[r] = -s.costSense * s.workDual[i]
		}
	}
	return sol
}

// Basis returns a copy of the basic variable of each row.
func (s *Session) Basis() []int {
	return append([]int(nil), s.basicIndex...)
}

// IterationCount is the number of basis changes over all solves.
func (s *Session) IterationCount() int { return s.iterationCount }
