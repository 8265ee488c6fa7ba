package simplex

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// rebuild refactorizes the basis if it has been updated, recomputes the
// primal values and the duals for the current phase, and corrects the
// updated objective.
func (p *Primal) rebuild() {
	s := p.s
	// Phase 1 iterations do not track the true objective.
	checkUpdated := s.hasPrimalObjectiveValue && p.solvePhase == Phase2
	previousObjective := s.updatedPrimalObjectiveValue
	hint := p.rebuildHint
	updates := s.updateCount
	p.rebuildHint = HintNone

	// Failing to choose a column leaves the basis unchanged since the last
	// rebuild, so only a reinversion for accuracy would be gained.
	refactor := updates > 0
	if !s.opts.InvertIfRowOutNegative && (hint == HintChooseColumnFail || hint == HintPossiblyOptimal) && s.hasFreshRebuild {
		refactor = false
	}
	reinverted := false
	if refactor {
		deficiency, err := s.computeFactor()
		if err != nil {
			p.fail(errors.Wrap(err, "rebuild"))
			return
		}
		if deficiency > 0 {
			p.logger.Error("basis matrix is singular", zap.Int("rank_deficiency", deficiency))
			p.fail(errors.Wrapf(ErrSingularBasis, "rank deficiency %d", deficiency))
			return
		}
		reinverted = true
	}

	if err := s.computePrimal(); err != nil {
		p.fail(err)
		return
	}
	p.getBasicPrimalInfeasibleSet()
	if s.numPrimalInfeasibilities > 0 {
		if p.solvePhase == Phase2 {
			p.logger.Warn("primal infeasibilities in phase 2, switching back to phase 1",
				zap.Int("num_primal_infeasibilities", s.numPrimalInfeasibilities),
				zap.Float64("max_primal_infeasibility", s.maxPrimalInfeasibility))
		}
		p.isPrimalPhase1 = true
		if err := p.phase1ComputeDual(s.baseValue, false); err != nil {
			p.fail(err)
			return
		}
	} else {
		if p.isPrimalPhase1 || p.solvePhase == Phase1 {
			s.initialiseCost()
		}
		p.isPrimalPhase1 = false
		if err := s.computeDual(); err != nil {
			p.fail(err)
			return
		}
		copy(s.workDualUpdated, s.workDual)
	}
	s.computeSimplexDualInfeasible()

	s.computePrimalObjectiveValue()
	var correction float64
	if checkUpdated {
		correction = s.primalObjectiveValue - previousObjective
		s.updatedPrimalObjectiveValue += correction
	} else {
		s.updatedPrimalObjectiveValue = s.primalObjectiveValue
	}

	p.reporter.Rebuild(RebuildRecord{
		Phase:                    p.solvePhase,
		Iteration:                s.iterationCount,
		Hint:                     hint,
		Reinverted:               reinverted,
		Objective:                s.objective(),
		Correction:               correction,
		UpdateCount:              updates,
		NumPrimalInfeasibilities: s.numPrimalInfeasibilities,
		SumPrimalInfeasibilities: s.sumPrimalInfeasibilities,
		NumDualInfeasibilities:   s.numDualInfeasibilities,
		SumDualInfeasibilities:   s.sumDualInfeasibilities,
	})

	p.numFlipSinceRebuild = 0
	s.hasFreshRebuild = true
}
