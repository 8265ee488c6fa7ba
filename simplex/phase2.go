package simplex

import (
	"math"

	"go.uber.org/zap"
)

// chooseRow is the two pass ratio test on the true objective. The first
// pass bounds the step by letting every basic variable go a tolerance past
// its bound; the second takes the largest pivot whose exact ratio is within
// that step. rowOut is -1 when no entry of the pivot column is above the
// pivot tolerance.
func (p *Primal) chooseRow() {
	s := p.s
	if err := s.pivotColumnFtran(p.columnIn, p.colAq); err != nil {
		p.fail(err)
		return
	}
	p.thetaDual = s.workDual[p.columnIn]
	p.rowOut = -1

	tol := s.opts.PrimalFeasibilityTolerance
	alphaTol := pivotTolerance(s.updateCount)
	moveIn := float64(moveDirection(p.thetaDual))

	relaxTheta := 1e100
	for _, r := range p.colAq.Nonzeros() {
		alpha := p.colAq.Array[r] * moveIn
		if alpha > alphaTol {
			relaxSpace := s.baseValue[r] - s.baseLower[r] + tol
			if relaxSpace < relaxTheta*alpha {
				relaxTheta = relaxSpace / alpha
			}
		} else if alpha < -alphaTol {
			relaxSpace := s.baseValue[r] - s.baseUpper[r] - tol
			if relaxSpace > relaxTheta*alpha {
				relaxTheta = relaxSpace / alpha
			}
		}
	}

	bestAlpha := 0.0
	for _, r := range p.colAq.Nonzeros() {
		alpha := p.colAq.Array[r] * moveIn
		if alpha > alphaTol {
			tightSpace := s.baseValue[r] - s.baseLower[r]
			if tightSpace < relaxTheta*alpha && bestAlpha < alpha {
				bestAlpha = alpha
				p.rowOut = r
			}
		} else if alpha < -alphaTol {
			tightSpace := s.baseValue[r] - s.baseUpper[r]
			if tightSpace > relaxTheta*alpha && bestAlpha < -alpha {
				bestAlpha = -alpha
				p.rowOut = r
			}
		}
	}
}

// phase2Update takes the step chosen by chooseRow: a bound flip, a pivot,
// or a hint that the LP may be unbounded.
func (p *Primal) phase2Update() {
	s := p.s
	moveIn := moveDirection(p.thetaDual)

	if p.rowOut < 0 {
		p.thetaPrimal = float64(moveIn) * math.Inf(1)
	} else {
		p.columnOut = s.basicIndex[p.rowOut]
		p.alphaCol = p.colAq.Array[p.rowOut]
		if p.alphaCol*float64(moveIn) > 0 {
			p.thetaPrimal = (s.baseValue[p.rowOut] - s.baseLower[p.rowOut]) / p.alphaCol
		} else {
			p.thetaPrimal = (s.baseValue[p.rowOut] - s.baseUpper[p.rowOut]) / p.alphaCol
		}
	}

	flipped := p.checkFlip(moveIn)
	if p.rowOut < 0 && !flipped {
		p.rebuildHint = HintPossiblyPrimalUnbounded
		return
	}

	if !flipped {
		// The tableau row is checked against the pivot column before
		// anything is changed, so that a rejected pivot leaves no trace.
		if err := p.formTableauRow(); err != nil {
			p.fail(err)
			return
		}
		if !p.updateVerify() {
			return
		}
	}

	p.phase2UpdatePrimal()
	s.computeSimplexPrimalInfeasible()

	if flipped {
		p.numFlipSinceRebuild++
		p.reportIteration(true, false)
		return
	}

	p.removeEnteringFreeColumn()
	p.updateDual(s.workDual)
	p.devexUpdate()

	sourceOut := 1
	if p.alphaCol*float64(moveIn) > 0 {
		sourceOut = -1
	}
	p.commitPivot(sourceOut)
	p.reportIteration(false, false)
}

// phase2UpdatePrimal moves the basic variables by thetaPrimal along the
// pivot column and accumulates the objective change.
func (p *Primal) phase2UpdatePrimal() {
	s := p.s
	tol := s.opts.PrimalFeasibilityTolerance
	for _, r := range p.colAq.Nonzeros() {
		s.baseValue[r] -= p.thetaPrimal * p.colAq.Array[r]
		infeasibility := math.Max(s.baseLower[r]-s.baseValue[r], s.baseValue[r]-s.baseUpper[r])
		if infeasibility > tol {
			p.rebuildHint = HintPrimalInfeasible
		}
	}
	if p.rowOut >= 0 {
		s.baseValue[p.rowOut] = p.valueIn
		in := p.columnIn
		infeasibility := math.Max(s.workLower[in]-s.workValue[in], s.workValue[in]-s.workUpper[in])
		if infeasibility > tol {
			p.logger.Warn("entering variable is primal infeasible",
				zap.Int("column", in),
				zap.Float64("infeasibility", infeasibility))
		}
	}
	s.updatedPrimalObjectiveValue += s.workDual[p.columnIn] * p.thetaPrimal
}
