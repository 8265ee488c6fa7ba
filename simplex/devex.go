package simplex

import "math"

// chooseColumn picks the entering variable: the first attractive nonbasic
// free column if there is one, otherwise the most dual infeasible variable
// scaled by its devex weight. columnIn is -1 when every reduced cost is
// within tolerance.
func (p *Primal) chooseColumn() {
	s := p.s
	tol := s.opts.DualFeasibilityTolerance
	p.columnIn = -1

	for _, iCol := range p.nonbasicFreeColSet.Entries() {
		if math.Abs(s.workDual[iCol]) > tol {
			p.columnIn = iCol
			return
		}
	}

	bestScore := 0.0
	for iCol := range s.numTot {
		infeasibility := float64(s.nonbasicMove[iCol]) * s.workDual[iCol]
		score := infeasibility / p.devexWeight[iCol]
		if infeasibility < -tol && score < bestScore {
			bestScore = score
			p.columnIn = iCol
		}
	}
}

// devexReset sets every weight to 1 and makes the current nonbasic set the
// reference framework.
func (p *Primal) devexReset() {
	s := p.s
	if len(p.devexWeight) != s.numTot {
		p.devexWeight = make([]float64, s.numTot)
		p.devexIndex = make([]int, s.numTot)
	}
	for i := range s.numTot {
		p.devexWeight[i] = 1
		if s.nonbasicFlag[i] != 0 {
			p.devexIndex[i] = 1
		} else {
			p.devexIndex[i] = 0
		}
	}
	p.numDevexIterations = 0
	p.numBadDevexWeight = 0
}

// devexUpdate updates the weights touched by the tableau row of the pivot
// that brings columnIn in at rowOut.
func (p *Primal) devexUpdate() {
	s := p.s
	pivotWeight := 0.0
	for _, r := range p.colAq.Nonzeros() {
		alpha := float64(p.devexIndex[s.basicIndex[r]]) * p.colAq.Array[r]
		pivotWeight += alpha * alpha
	}
	pivotWeight += float64(p.devexIndex[p.columnIn])
	pivotWeight = math.Sqrt(pivotWeight)

	if p.devexWeight[p.columnIn] > 3*pivotWeight {
		p.numBadDevexWeight++
	}

	pivotWeight /= math.Abs(p.colAq.Array[p.rowOut])

	raise := func(iVar int, alpha float64) {
		devex := pivotWeight*math.Abs(alpha) + float64(p.devexIndex[iVar])
		if p.devexWeight[iVar] < devex {
			p.devexWeight[iVar] = devex
		}
	}
	for _, c := range p.rowAp.Nonzeros() {
		raise(c, p.rowAp.Array[c])
	}
	for _, r := range p.rowEp.Nonzeros() {
		raise(s.numCol+r, p.rowEp.Array[r])
	}

	p.devexWeight[p.columnOut] = math.Max(1, pivotWeight)
	p.devexWeight[p.columnIn] = 1
	p.numDevexIterations++
}
