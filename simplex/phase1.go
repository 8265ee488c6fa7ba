package simplex

import (
	"math"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// dualCheckTolerance is the largest difference between updated and
// recomputed phase 1 duals that passes without a warning.
const dualCheckTolerance = 1e-6

func compareBreakpoints(a, b breakpoint) int {
	switch {
	case a.theta < b.theta:
		return -1
	case a.theta > b.theta:
		return 1
	}
	return a.key - b.key
}

// phase1ChooseRow is the ratio test on the sum of infeasibilities. Each row
// contributes the step at which it becomes feasible and the step at which
// it becomes infeasible at its other bound. Walking the relaxed steps in
// order, the slope of the objective falls by |alpha| at each one; the last
// step before it turns non-negative bounds the move. Among the rows whose
// exact step is within that bound, the last one with a pivot at least a
// tenth of the largest is chosen.
func (p *Primal) phase1ChooseRow() {
	s := p.s
	if err := s.pivotColumnFtran(p.columnIn, p.colAq); err != nil {
		p.fail(err)
		return
	}
	p.thetaDual = s.workDual[p.columnIn]

	tol := s.opts.PrimalFeasibilityTolerance
	pivotTol := pivotTolerance(s.updateCount)
	moveIn := float64(moveDirection(p.thetaDual))
	numRow := s.numRow

	p.ph1SorterR = p.ph1SorterR[:0]
	p.ph1SorterT = p.ph1SorterT[:0]
	for _, r := range p.colAq.Nonzeros() {
		alpha := p.colAq.Array[r] * moveIn
		value, lower, upper := s.baseValue[r], s.baseLower[r], s.baseUpper[r]

		// basic variable decreases
		if alpha > pivotTol {
			if value > upper+tol {
				theta := (value - upper - tol) / alpha
				p.ph1SorterR = append(p.ph1SorterR, breakpoint{theta, r})
				p.ph1SorterT = append(p.ph1SorterT, breakpoint{theta, r})
			}
			if value > lower-tol && !math.IsInf(lower, -1) {
				p.ph1SorterR = append(p.ph1SorterR, breakpoint{(value - lower + tol) / alpha, r - numRow})
				p.ph1SorterT = append(p.ph1SorterT, breakpoint{(value - lower) / alpha, r - numRow})
			}
		}

		// basic variable increases
		if alpha < -pivotTol {
			if value < lower-tol {
				theta := (value - lower + tol) / alpha
				p.ph1SorterR = append(p.ph1SorterR, breakpoint{theta, r - numRow})
				p.ph1SorterT = append(p.ph1SorterT, breakpoint{theta, r - numRow})
			}
			if value < upper+tol && !math.IsInf(upper, 1) {
				p.ph1SorterR = append(p.ph1SorterR, breakpoint{(value - upper - tol) / alpha, r})
				p.ph1SorterT = append(p.ph1SorterT, breakpoint{(value - upper) / alpha, r})
			}
		}
	}

	p.rowOut = -1
	p.columnOut = -1
	p.phase1OutBnd = 0
	if len(p.ph1SorterR) == 0 {
		return
	}

	slices.SortFunc(p.ph1SorterR, compareBreakpoints)
	maxTheta := p.ph1SorterR[0].theta
	gradient := math.Abs(p.thetaDual)
	for _, b := range p.ph1SorterR {
		gradient -= math.Abs(p.colAq.Array[b.row(numRow)])
		if gradient <= 0 {
			break
		}
		maxTheta = b.theta
	}

	slices.SortFunc(p.ph1SorterT, compareBreakpoints)
	maxAlpha := 0.0
	last := len(p.ph1SorterT)
	for i, b := range p.ph1SorterT {
		if b.theta > maxTheta {
			last = i
			break
		}
		maxAlpha = math.Max(maxAlpha, math.Abs(p.colAq.Array[b.row(numRow)]))
	}

	for i := last - 1; i >= 0; i-- {
		b := p.ph1SorterT[i]
		r := b.row(numRow)
		if math.Abs(p.colAq.Array[r]) > 0.1*maxAlpha {
			p.rowOut = r
			p.phase1OutBnd = b.bound()
			break
		}
	}
	if p.rowOut >= 0 {
		p.columnOut = s.basicIndex[p.rowOut]
	}
}

// phase1Update takes the step chosen by phase1ChooseRow, as a bound flip or
// a pivot, keeping the phase 1 duals current.
func (p *Primal) phase1Update() {
	s := p.s
	moveIn := moveDirection(p.thetaDual)

	p.alphaCol = p.colAq.Array[p.rowOut]
	bound := s.baseLower[p.rowOut]
	if p.phase1OutBnd == 1 {
		bound = s.baseUpper[p.rowOut]
	}
	p.thetaPrimal = (s.baseValue[p.rowOut] - bound) / p.alphaCol

	flipped := p.checkFlip(moveIn)

	p.phase1UpdatePrimal()
	if err := p.phase1UpdateDual(); err != nil {
		p.fail(err)
		return
	}
	if err := p.phase1ComputeDual(s.baseValueUpdated, true); err != nil {
		p.fail(err)
		return
	}

	if flipped {
		p.numFlipSinceRebuild++
		current := p.recomputePhase1()
		p.reportIteration(true, current)
		return
	}

	// The leaving row keeps its old value until the duals have seen the
	// infeasibilities before the pivot.
	s.baseValueUpdated[p.rowOut] = p.valueIn

	if err := p.formTableauRow(); err != nil {
		p.fail(err)
		return
	}
	if !p.updateVerify() {
		return
	}

	p.thetaDual = s.workDualUpdated[p.columnIn]
	p.updateDual(s.workDualUpdated)
	s.workDual[p.columnIn] = 0
	s.workDual[p.columnOut] = -p.thetaDual

	p.devexUpdate()
	p.removeEnteringFreeColumn()
	p.commitPivot(p.phase1OutBnd)

	current := p.recomputePhase1()
	p.reportIteration(false, current)
}

// recomputePhase1 refreshes the primal values and phase 1 duals after a step
// unless a rebuild is already due. Once no infeasibility is left a rebuild
// is forced so that phase 2 starts from fresh data. It reports whether the
// primal values were recomputed.
func (p *Primal) recomputePhase1() bool {
	s := p.s
	if p.rebuildHint != HintNone {
		return false
	}
	if err := s.computePrimal(); err != nil {
		p.fail(err)
		return false
	}
	p.getBasicPrimalInfeasibleSet()
	if s.numPrimalInfeasibilities > 0 {
		p.isPrimalPhase1 = true
		if err := p.phase1ComputeDual(s.baseValue, true); err != nil {
			p.fail(err)
		}
		return true
	}
	p.rebuildHint = HintUpdateLimitReached
	return true
}

// phase1UpdatePrimal moves the basic values by thetaPrimal into
// baseValueUpdated, leaving baseValue as it was.
func (p *Primal) phase1UpdatePrimal() {
	s := p.s
	copy(s.baseValueUpdated, s.baseValue)
	for _, r := range p.colAq.Nonzeros() {
		s.baseValueUpdated[r] -= p.thetaPrimal * p.colAq.Array[r]
	}
}

// phase1UpdateDual applies the change in phase 1 costs caused by rows
// becoming feasible or infeasible to workDualUpdated.
func (p *Primal) phase1UpdateDual() error {
	s := p.s
	tol := s.opts.PrimalFeasibilityTolerance
	delta := p.colPrimalPhase1
	delta.Clear()
	for r, iVar := range s.basicIndex {
		cost := phase1Cost(s.baseValueUpdated[r], s.baseLower[r], s.baseUpper[r], tol)
		change := cost - s.workCost[iVar]
		s.workCost[iVar] = cost
		if change != 0 {
			delta.Set(r, change)
			s.workDualUpdated[iVar] += change
		}
	}
	if delta.Count == 0 {
		return nil
	}

	if err := s.fullBtran(delta); err != nil {
		return err
	}
	s.tableauRowPrice(delta, p.rowPrimalPhase1)
	for _, c := range p.rowPrimalPhase1.Nonzeros() {
		s.workDualUpdated[c] -= p.rowPrimalPhase1.Array[c]
	}
	for _, r := range delta.Nonzeros() {
		s.workDualUpdated[s.numCol+r] -= delta.Array[r]
	}
	for _, iVar := range s.basicIndex {
		s.workDualUpdated[iVar] = 0
	}
	return nil
}

// phase1ComputeDual sets the phase 1 costs from baseValue and computes the
// duals from scratch. With check set, the result is compared with
// workDualUpdated first.
func (p *Primal) phase1ComputeDual(baseValue []float64, check bool) error {
	s := p.s
	tol := s.opts.PrimalFeasibilityTolerance
	for i := range s.workCost {
		s.workCost[i] = 0
	}
	s.buffer.Clear()
	for r, iVar := range s.basicIndex {
		cost := phase1Cost(baseValue[r], s.baseLower[r], s.baseUpper[r], tol)
		s.workCost[iVar] = cost
		if cost != 0 {
			s.buffer.Set(r, cost)
		}
	}
	if err := s.fullBtran(s.buffer); err != nil {
		return err
	}
	s.fullPrice(s.buffer, s.bufferLong)

	for i := range s.workDual {
		s.workDual[i] = 0
	}
	for c := range s.numCol {
		if s.nonbasicFlag[c] != 0 {
			s.workDual[c] = -s.bufferLong.Array[c]
		}
	}
	for r := range s.numRow {
		if s.nonbasicFlag[s.numCol+r] != 0 {
			s.workDual[s.numCol+r] = -s.buffer.Array[r]
		}
	}

	if check {
		if maxError := floats.Distance(s.workDualUpdated, s.workDual, math.Inf(1)); maxError > dualCheckTolerance {
			p.logger.Warn("updated phase 1 dual differs from computed",
				zap.Int("iter", s.iterationCount),
				zap.Float64("max_dual_error", maxError))
		}
	}
	copy(s.workDualUpdated, s.workDual)
	s.computeSimplexDualInfeasible()
	return nil
}

// phase1Cost is -1 below the lower bound, +1 above the upper bound and 0
// within tolerance of feasibility.
func phase1Cost(value, lower, upper, tol float64) float64 {
	switch {
	case value < lower-tol:
		return -1
	case value > upper+tol:
		return 1
	}
	return 0
}
