package simplex

import "fmt"

// SolvePhase is where the primal simplex controller is.
type SolvePhase int

const (
	PhaseUnknown SolvePhase = iota
	Phase1
	Phase2
	PhaseOptimal
	PhaseExit
	PhaseCleanup
	PhaseError
)

func (p SolvePhase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	case PhaseOptimal:
		return "optimal"
	case PhaseExit:
		return "exit"
	case PhaseCleanup:
		return "cleanup"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("SolvePhase(%d)", int(p))
}

// RebuildHint is why an iteration asks for a rebuild. Any value other than
// HintNone makes the controller rebuild before the next iteration.
type RebuildHint int

const (
	HintNone RebuildHint = iota
	HintChooseColumnFail
	HintPossiblyOptimal
	HintPrimalInfeasible
	HintUpdateLimitReached
	HintPossiblyPrimalUnbounded
	HintPossiblySingularBasis
)

func (h RebuildHint) String() string {
	switch h {
	case HintNone:
		return "none"
	case HintChooseColumnFail:
		return "choose-column-fail"
	case HintPossiblyOptimal:
		return "possibly-optimal"
	case HintPrimalInfeasible:
		return "primal-infeasible"
	case HintUpdateLimitReached:
		return "update-limit-reached"
	case HintPossiblyPrimalUnbounded:
		return "possibly-primal-unbounded"
	case HintPossiblySingularBasis:
		return "possibly-singular-basis"
	}
	return fmt.Sprintf("RebuildHint(%d)", int(h))
}

// ModelStatus is the outcome of a solve.
type ModelStatus int

const (
	StatusNotSet ModelStatus = iota
	StatusOptimal
	StatusPrimalInfeasible
	StatusPrimalUnbounded
	// StatusCleanup means phase 2 found primal infeasibilities it did not
	// expect; the basis should be finished by the dual simplex.
	StatusCleanup
	// StatusBailout means a time or iteration limit stopped the solve. The
	// session is consistent and Solve may be called again.
	StatusBailout
	StatusError
)

func (s ModelStatus) String() string {
	switch s {
	case StatusNotSet:
		return "not set"
	case StatusOptimal:
		return "optimal"
	case StatusPrimalInfeasible:
		return "primal infeasible"
	case StatusPrimalUnbounded:
		return "primal unbounded"
	case StatusCleanup:
		return "cleanup"
	case StatusBailout:
		return "bailout"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("ModelStatus(%d)", int(s))
}

// Nonbasic move directions.
const (
	MoveDown = -1
	MoveZero = 0
	MoveUp   = 1
)
