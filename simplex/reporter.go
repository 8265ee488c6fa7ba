package simplex

// IterationRecord summarises one primal simplex iteration, pivot or bound
// flip.
type IterationRecord struct {
	Phase            SolvePhase
	Iteration        int
	DevexIteration   int
	DevexFramework   int
	EnteringVariable int
	LeavingVariable  int
	RowOut           int
	Flipped          bool
	Hint             RebuildHint

	ThetaPrimal      float64
	ThetaDual        float64
	AlphaCol         float64
	AlphaRow         float64
	NumericalTrouble float64
	Objective        float64

	// PrimalCurrent is set when the primal infeasibilities below were
	// recomputed after this iteration rather than carried over.
	PrimalCurrent            bool
	NumPrimalInfeasibilities int
	SumPrimalInfeasibilities float64
	NumDualInfeasibilities   int
	SumDualInfeasibilities   float64
}

// RebuildRecord summarises a rebuild. UpdateCount is the number of basis
// updates since the previous factorization.
type RebuildRecord struct {
	Phase       SolvePhase
	Iteration   int
	Hint        RebuildHint
	Reinverted  bool
	Objective   float64
	Correction  float64
	UpdateCount int

	NumPrimalInfeasibilities int
	SumPrimalInfeasibilities float64
	NumDualInfeasibilities   int
	SumDualInfeasibilities   float64
}

// Reporter receives iteration and rebuild summaries. The solver never reads
// anything back from it.
type Reporter interface {
	Iteration(IterationRecord)
	Rebuild(RebuildRecord)
}

type nopReporter struct{}

func (nopReporter) Iteration(IterationRecord) {}
func (nopReporter) Rebuild(RebuildRecord)     {}
