package simplex

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// numericalTroubleWarning and numericalTroubleLimit bound the relative
	// disagreement between the pivot taken from the column and from the row.
	numericalTroubleWarning = 1e-7
	numericalTroubleLimit   = 1e-3
)

// pivotTolerance loosens as the factorization accumulates updates.
func pivotTolerance(updateCount int) float64 {
	switch {
	case updateCount < 10:
		return 1e-9
	case updateCount < 20:
		return 1e-8
	default:
		return 1e-7
	}
}

// moveDirection is the direction the entering variable moves in to reduce
// the objective given its reduced cost.
func moveDirection(thetaDual float64) int {
	if thetaDual > 0 {
		return MoveDown
	}
	return MoveUp
}

// formTableauRow computes row rowOut of B^-1 into rowEp and the structural
// part of the tableau row into rowAp.
func (p *Primal) formTableauRow() error {
	s := p.s
	if err := s.unitBtran(p.rowOut, p.rowEp); err != nil {
		return err
	}
	s.tableauRowPrice(p.rowEp, p.rowAp)
	return nil
}

// checkFlip moves the entering variable to its opposite bound instead of
// pivoting when the step would carry it past that bound.
func (p *Primal) checkFlip(moveIn int) bool {
	s := p.s
	tol := s.opts.PrimalFeasibilityTolerance
	in := p.columnIn
	lower, upper := s.workLower[in], s.workUpper[in]
	p.valueIn = s.workValue[in] + p.thetaPrimal

	flipped := false
	switch {
	case moveIn == MoveUp && p.valueIn > upper+tol:
		p.valueIn = upper
		p.thetaPrimal = upper - lower
		s.nonbasicMove[in] = MoveDown
		flipped = true
	case moveIn == MoveDown && p.valueIn < lower-tol:
		p.valueIn = lower
		p.thetaPrimal = lower - upper
		s.nonbasicMove[in] = MoveUp
		flipped = true
	}
	if flipped {
		s.workValue[in] = p.valueIn
		p.rowOut = -1
		p.columnOut = in
		p.alphaCol = 0
		p.numericalTrouble = 0
	}
	return flipped
}

// updateDual moves the reduced costs in workDual along the tableau row so
// that columnIn's becomes zero.
func (p *Primal) updateDual(workDual []float64) {
	s := p.s
	p.thetaDual = workDual[p.columnIn] / p.alphaCol
	for _, c := range p.rowAp.Nonzeros() {
		workDual[c] -= p.thetaDual * p.rowAp.Array[c]
	}
	for _, r := range p.rowEp.Nonzeros() {
		workDual[s.numCol+r] -= p.thetaDual * p.rowEp.Array[r]
	}
	workDual[p.columnIn] = 0
	workDual[p.columnOut] = -p.thetaDual
}

// updateVerify compares the pivot from the entering column with the one
// from the tableau row. It returns false when the pivot must be abandoned:
// a first large disagreement asks for a rebuild, a repeat before any
// successful pivot fails the solve.
func (p *Primal) updateVerify() bool {
	s := p.s
	if p.columnIn < s.numCol {
		p.alphaRow = p.rowAp.Array[p.columnIn]
	} else {
		p.alphaRow = p.rowEp.Array[p.columnIn-s.numCol]
	}
	absCol := math.Abs(p.alphaCol)
	absRow := math.Abs(p.alphaRow)
	p.numericalTrouble = math.Abs(absCol-absRow) / math.Min(absCol, absRow)
	if math.IsNaN(p.numericalTrouble) {
		p.numericalTrouble = math.Inf(1)
	}
	if p.numericalTrouble <= numericalTroubleWarning {
		return true
	}
	fields := []zap.Field{
		zap.Int("iter", s.iterationCount),
		zap.Float64("alpha_col", p.alphaCol),
		zap.Float64("alpha_row", p.alphaRow),
		zap.Float64("measure", p.numericalTrouble),
	}
	if p.numericalTrouble <= numericalTroubleLimit {
		p.logger.Debug("numerical check", fields...)
		return true
	}
	p.troubleStreak++
	if p.troubleStreak >= 2 {
		p.logger.Error("pivot disagreement persists after rebuild", fields...)
		p.fail(errors.Wrapf(ErrNumericalTrouble, "iteration %d: measure %g", s.iterationCount, p.numericalTrouble))
		return false
	}
	p.logger.Warn("numerical check failed, rebuilding", fields...)
	p.rebuildHint = HintPossiblySingularBasis
	return false
}

// commitPivot exchanges columnIn and the basic variable of rowOut, which
// leaves at the bound given by sourceOut.
func (p *Primal) commitPivot(sourceOut int) {
	s := p.s
	p.columnOut = s.updatePivots(p.columnIn, p.rowOut, sourceOut)
	if p.isFree(p.columnOut) {
		p.nonbasicFreeColSet.Add(p.columnOut)
	}
	if hint := s.updateFactor(p.colAq, p.rowEp, p.rowOut); hint != HintNone {
		p.rebuildHint = hint
	}
	s.updateMatrix(p.columnIn, p.columnOut)
	if s.updateCount >= s.opts.UpdateLimit && p.rebuildHint == HintNone {
		p.rebuildHint = HintUpdateLimitReached
	}
	s.iterationCount++
	p.troubleStreak = 0

	if p.numBadDevexWeight > 3 {
		p.devexReset()
	}
}

// removeEnteringFreeColumn drops columnIn from the free column set if it is
// there.
func (p *Primal) removeEnteringFreeColumn() {
	if !p.isFree(p.columnIn) {
		return
	}
	if !p.nonbasicFreeColSet.Remove(p.columnIn) {
		p.logger.Error("failed to remove nonbasic free column", zap.Int("column", p.columnIn))
	}
}

func (p *Primal) isFree(iVar int) bool {
	return math.IsInf(p.s.workLower[iVar], -1) && math.IsInf(p.s.workUpper[iVar], 1)
}

func (p *Primal) reportIteration(flipped, primalCurrent bool) {
	s := p.s
	if p.numDevexIterations == 0 {
		p.numDevexFramework++
	}
	p.reporter.Iteration(IterationRecord{
		Phase:                    p.solvePhase,
		Iteration:                s.iterationCount,
		DevexIteration:           p.numDevexIterations,
		DevexFramework:           p.numDevexFramework,
		EnteringVariable:         p.columnIn,
		LeavingVariable:          p.columnOut,
		RowOut:                   p.rowOut,
		Flipped:                  flipped,
		Hint:                     p.rebuildHint,
		ThetaPrimal:              p.thetaPrimal,
		ThetaDual:                p.thetaDual,
		AlphaCol:                 p.alphaCol,
		AlphaRow:                 p.alphaRow,
		NumericalTrouble:         p.numericalTrouble,
		Objective:                s.objective(),
		PrimalCurrent:            primalCurrent,
		NumPrimalInfeasibilities: s.numPrimalInfeasibilities,
		SumPrimalInfeasibilities: s.sumPrimalInfeasibilities,
		NumDualInfeasibilities:   s.numDualInfeasibilities,
		SumDualInfeasibilities:   s.sumDualInfeasibilities,
	})
}

// breakpoint is one candidate of the phase 1 ratio test. key is the row for
// a break at the upper bound and row-numRow for one at the lower bound, so
// that ties in theta sort lower bound breaks first.
type breakpoint struct {
	theta float64
	key   int
}

func (b breakpoint) row(numRow int) int {
	if b.key >= 0 {
		return b.key
	}
	return b.key + numRow
}

// bound is 1 for a break at the upper bound, -1 at the lower bound.
func (b breakpoint) bound() int {
	if b.key >= 0 {
		return 1
	}
	return -1
}
