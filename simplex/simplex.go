package simplex

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"q.log/primal/sparse"
)

// Primal is the primal simplex method with devex pricing over a Session.
// It alternates between phase 1, which minimizes the sum of primal
// infeasibilities, and phase 2, which minimizes the objective from a
// feasible basis.
type Primal struct {
	s        *Session
	reporter Reporter
	logger   *zap.Logger

	solvePhase     SolvePhase
	rebuildHint    RebuildHint
	isPrimalPhase1 bool
	err            error

	// Iteration state, reset by each pivot.
	columnIn         int
	rowOut           int
	columnOut        int
	phase1OutBnd     int
	thetaDual        float64
	thetaPrimal      float64
	alphaCol         float64
	alphaRow         float64
	valueIn          float64
	numericalTrouble float64

	colAq           *sparse.Vector
	rowEp           *sparse.Vector
	rowAp           *sparse.Vector
	colPrimalPhase1 *sparse.Vector
	rowPrimalPhase1 *sparse.Vector

	ph1SorterR []breakpoint
	ph1SorterT []breakpoint

	numFreeCol               int
	nonbasicFreeColSet       *sparse.IndexSet
	basicPrimalInfeasibleSet *sparse.IndexSet

	devexWeight        []float64
	devexIndex         []int
	numDevexIterations int
	numBadDevexWeight  int
	numDevexFramework  int

	numFlipSinceRebuild int
	troubleStreak       int

	phase1IterationCount int
	phase2IterationCount int
}

// Result is the outcome of Solve.
type Result struct {
	Status           ModelStatus
	Phase            SolvePhase
	Objective        float64
	Iterations       int
	Phase1Iterations int
	Phase2Iterations int

	NumPrimalInfeasibilities int
	SumPrimalInfeasibilities float64
	NumDualInfeasibilities   int
	SumDualInfeasibilities   float64
}

// NewPrimal returns a primal simplex solver for s. A nil reporter discards
// the iteration log.
func NewPrimal(s *Session, reporter Reporter) *Primal {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Primal{
		s:        s,
		reporter: reporter,
		logger:   s.logger.Named("primal"),
	}
}

// Solve runs the two-phase primal simplex from the session's factorized
// basis. A bailout returns StatusBailout with a nil error; calling Solve
// again resumes from the basis reached.
func (p *Primal) Solve(ctx context.Context) (Result, error) {
	s := p.s
	if s.numRow <= 0 {
		p.logger.Error("primal simplex called for LP with no constraints", zap.Int("rows", s.numRow))
		return p.returnFromSolve(ErrNoRows)
	}
	p.initialise()
	if s.bailoutOnTimeIterations(ctx) {
		return p.returnFromSolve(nil)
	}
	if !s.hasInvert {
		p.logger.Error("primal simplex called without INVERT")
		return p.returnFromSolve(ErrNoInvert)
	}

	p.getNonbasicFreeColumnSet()
	p.solvePhase = PhaseUnknown

	for {
		it0 := s.iterationCount
		// The updated objective is only checked against the rebuilt one
		// within a phase.
		s.hasPrimalObjectiveValue = false
		if p.solvePhase == PhaseUnknown {
			s.initialiseBound()
			if err := s.computePrimal(); err != nil {
				return p.returnFromSolve(err)
			}
			p.getBasicPrimalInfeasibleSet()
			if s.numPrimalInfeasibilities > 0 {
				p.solvePhase = Phase1
			} else {
				p.solvePhase = Phase2
			}
			if err := p.debugPrimalSimplex("before solve"); err != nil {
				return p.returnFromSolve(err)
			}
		}

		switch p.solvePhase {
		case Phase1:
			p.solvePhase1(ctx)
			p.phase1IterationCount += s.iterationCount - it0
		case Phase2:
			p.solvePhase2(ctx)
			p.phase2IterationCount += s.iterationCount - it0
		default:
			return p.returnFromSolve(errors.Wrapf(ErrInconsistentState, "solve phase %s", p.solvePhase))
		}
		if s.bailout {
			return p.returnFromSolve(nil)
		}

		switch p.solvePhase {
		case PhaseError:
			return p.returnFromSolve(p.err)
		case PhaseExit:
			return p.returnFromSolve(nil)
		case PhaseCleanup:
			s.status = StatusCleanup
			return p.returnFromSolve(nil)
		case PhaseOptimal:
			s.status = StatusOptimal
			return p.returnFromSolve(p.debugPrimalSimplex("after solve"))
		case Phase1, Phase2, PhaseUnknown:
		}
	}
}

func (p *Primal) initialise() {
	s := p.s
	s.start = time.Now()
	s.bailout = false
	s.status = StatusNotSet
	s.hasPrimalObjectiveValue = false
	p.err = nil
	p.rebuildHint = HintNone
	p.troubleStreak = 0

	p.colAq = sparse.NewVector(s.numRow)
	p.rowEp = sparse.NewVector(s.numRow)
	p.rowAp = sparse.NewVector(s.numCol)
	p.colPrimalPhase1 = sparse.NewVector(s.numRow)
	p.rowPrimalPhase1 = sparse.NewVector(s.numCol)
	p.ph1SorterR = make([]breakpoint, 0, s.numRow)
	p.ph1SorterT = make([]breakpoint, 0, s.numRow)

	p.devexReset()

	p.numFreeCol = 0
	for i := range s.numTot {
		if p.isFree(i) {
			p.numFreeCol++
		}
	}
	if p.numFreeCol > 0 {
		p.logger.Info("LP has free columns", zap.Int("count", p.numFreeCol))
	}
	p.nonbasicFreeColSet = sparse.NewIndexSet(p.numFreeCol, s.numTot-1)
	p.basicPrimalInfeasibleSet = sparse.NewIndexSet(s.numRow, s.numRow-1)
}

// solvePhase1 iterates on the sum of infeasibilities until the basis is
// primal feasible, the LP is shown infeasible, or it must bail out.
func (p *Primal) solvePhase1(ctx context.Context) {
	s := p.s
	s.hasPrimalObjectiveValue = false
	if s.bailoutOnTimeIterations(ctx) {
		return
	}
	p.logger.Debug("primal-phase1-start")

	for {
		p.rebuild()
		if p.solvePhase == PhaseError {
			return
		}
		if !p.isPrimalPhase1 {
			p.solvePhase = Phase2
			return
		}
		if s.bailoutOnTimeIterations(ctx) {
			return
		}

		for {
			if err := p.debugPrimalSimplex("before phase 1 iteration"); err != nil {
				p.fail(err)
				return
			}
			p.chooseColumn()
			if p.columnIn == -1 {
				p.rebuildHint = HintChooseColumnFail
				break
			}
			p.phase1ChooseRow()
			if p.solvePhase == PhaseError {
				return
			}
			if p.rowOut == -1 {
				p.logger.Error("primal phase 1 choose row failed", zap.Int("column_in", p.columnIn))
				p.fail(errors.Wrapf(ErrChooseRow, "column %d", p.columnIn))
				return
			}
			p.phase1Update()
			if p.solvePhase == PhaseError {
				return
			}
			if p.rebuildHint != HintNone {
				break
			}
			if s.bailoutOnTimeIterations(ctx) {
				return
			}
		}
		// Only a failure to choose a column on fresh data ends phase 1.
		if p.rebuildHint == HintChooseColumnFail && s.hasFreshRebuild {
			break
		}
	}

	if err := p.debugPrimalSimplex("end of phase 1"); err != nil {
		p.fail(err)
		return
	}
	if s.numPrimalInfeasibilities == 0 {
		p.solvePhase = Phase2
		return
	}
	p.logger.Debug("primal-infeasible",
		zap.Int("num_primal_infeasibilities", s.numPrimalInfeasibilities),
		zap.Float64("sum_primal_infeasibilities", s.sumPrimalInfeasibilities))
	p.solvePhase = PhaseExit
	s.status = StatusPrimalInfeasible
}

// solvePhase2 iterates on the true objective from a feasible basis.
func (p *Primal) solvePhase2(ctx context.Context) {
	s := p.s
	s.hasPrimalObjectiveValue = false
	if s.bailoutOnTimeIterations(ctx) {
		return
	}
	p.logger.Debug("primal-phase2-start")

	for {
		p.rebuild()
		if p.solvePhase == PhaseError {
			return
		}
		if s.bailoutOnTimeIterations(ctx) {
			return
		}
		if p.isPrimalPhase1 {
			if s.opts.Phase2InfeasibleCleanup {
				p.handOffToCleanup()
				return
			}
			p.logger.Debug("primal-return-phase1")
			p.solvePhase = Phase1
			return
		}

		for {
			if err := p.debugPrimalSimplex("before phase 2 iteration"); err != nil {
				p.fail(err)
				return
			}
			p.chooseColumn()
			if p.columnIn == -1 {
				p.rebuildHint = HintPossiblyOptimal
				break
			}
			p.chooseRow()
			if p.solvePhase == PhaseError {
				return
			}
			p.phase2Update()
			if p.solvePhase == PhaseError {
				return
			}
			if s.bailoutOnTimeIterations(ctx) {
				return
			}
			if p.rebuildHint != HintNone {
				break
			}
		}
		// Optimality and unboundedness are only concluded from data fresh
		// from rebuild with no flips since.
		terminal := p.rebuildHint == HintPossiblyOptimal || p.rebuildHint == HintPossiblyPrimalUnbounded
		if terminal && s.hasFreshRebuild && p.numFlipSinceRebuild == 0 {
			break
		}
	}

	if err := p.debugPrimalSimplex("end of phase 2"); err != nil {
		p.fail(err)
		return
	}
	if p.columnIn == -1 {
		p.logger.Debug("primal-optimal")
		p.solvePhase = PhaseOptimal
		return
	}
	p.logger.Info("primal-unbounded", zap.Int("column_in", p.columnIn))
	p.solvePhase = PhaseExit
	s.status = StatusPrimalUnbounded
}

// handOffToCleanup restores the true costs and duals so that a dual simplex
// can pick up the basis.
func (p *Primal) handOffToCleanup() {
	s := p.s
	s.initialiseCost()
	if err := s.computeDual(); err != nil {
		p.fail(err)
		return
	}
	s.computeSimplexDualInfeasible()
	p.logger.Info("primal infeasibilities in phase 2, handing off to cleanup",
		zap.Int("num_primal_infeasibilities", s.numPrimalInfeasibilities),
		zap.Int("num_dual_infeasibilities", s.numDualInfeasibilities))
	p.solvePhase = PhaseCleanup
}

func (p *Primal) fail(err error) {
	p.err = err
	p.solvePhase = PhaseError
	p.s.status = StatusError
}

func (p *Primal) returnFromSolve(err error) (Result, error) {
	s := p.s
	if err != nil {
		s.status = StatusError
	}
	res := Result{
		Status:                   s.status,
		Phase:                    p.solvePhase,
		Objective:                s.objective(),
		Iterations:               s.iterationCount,
		Phase1Iterations:         p.phase1IterationCount,
		Phase2Iterations:         p.phase2IterationCount,
		NumPrimalInfeasibilities: s.numPrimalInfeasibilities,
		SumPrimalInfeasibilities: s.sumPrimalInfeasibilities,
		NumDualInfeasibilities:   s.numDualInfeasibilities,
		SumDualInfeasibilities:   s.sumDualInfeasibilities,
	}
	return res, err
}

// getNonbasicFreeColumnSet collects the nonbasic variables with no finite
// bound.
func (p *Primal) getNonbasicFreeColumnSet() {
	s := p.s
	p.nonbasicFreeColSet.Clear()
	if p.numFreeCol == 0 {
		return
	}
	for i := range s.numTot {
		if s.nonbasicFlag[i] != 0 && p.isFree(i) {
			p.nonbasicFreeColSet.Add(i)
		}
	}
}

// getBasicPrimalInfeasibleSet counts the basic primal infeasibilities and
// collects the rows where they occur.
func (p *Primal) getBasicPrimalInfeasibleSet() {
	s := p.s
	tol := s.opts.PrimalFeasibilityTolerance
	p.basicPrimalInfeasibleSet.Clear()
	s.numPrimalInfeasibilities = 0
	s.maxPrimalInfeasibility = 0
	s.sumPrimalInfeasibilities = 0
	for r := range s.numRow {
		infeasibility := math.Max(s.baseLower[r]-s.baseValue[r], s.baseValue[r]-s.baseUpper[r])
		if infeasibility <= 0 {
			continue
		}
		if infeasibility > tol {
			s.numPrimalInfeasibilities++
			p.basicPrimalInfeasibleSet.Add(r)
		}
		s.maxPrimalInfeasibility = math.Max(s.maxPrimalInfeasibility, infeasibility)
		s.sumPrimalInfeasibilities += infeasibility
	}
}

// debugPrimalSimplex checks the basis partition and the free column set
// when debugging is enabled.
func (p *Primal) debugPrimalSimplex(message string) error {
	s := p.s
	if !s.opts.Debug {
		return nil
	}
	numBasic := 0
	for i := range s.numTot {
		if s.nonbasicFlag[i] == 0 {
			numBasic++
		}
	}
	if numBasic != s.numRow {
		return errors.Wrapf(ErrInconsistentState, "%s: %d basic variables for %d rows", message, numBasic, s.numRow)
	}
	for r, iVar := range s.basicIndex {
		if s.nonbasicFlag[iVar] != 0 {
			return errors.Wrapf(ErrInconsistentState, "%s: variable %d of row %d is flagged nonbasic", message, iVar, r)
		}
	}
	if err := p.nonbasicFreeColSet.Check(); err != nil {
		return errors.Wrap(err, message)
	}
	for i := range s.numTot {
		free := s.nonbasicFlag[i] != 0 && p.isFree(i)
		if free != p.nonbasicFreeColSet.Contains(i) {
			return errors.Wrapf(ErrInconsistentState, "%s: nonbasic free column set disagrees at %d", message, i)
		}
	}
	return nil
}
