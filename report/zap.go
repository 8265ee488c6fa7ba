// Package report turns the simplex iteration log into structured log
// entries.
package report

import (
	"go.uber.org/zap"
	"q.log/primal/simplex"
)

// Zap writes iteration summaries at debug level and rebuild summaries at
// info level.
type Zap struct {
	logger *zap.Logger
}

func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger.Named("iterations")}
}

func (z *Zap) Iteration(rec simplex.IterationRecord) {
	if ce := z.logger.Check(zap.DebugLevel, "iteration"); ce != nil {
		ce.Write(
			zap.Stringer("phase", rec.Phase),
			zap.Int("iter", rec.Iteration),
			zap.Int("devex_iter", rec.DevexIteration),
			zap.Int("devex_framework", rec.DevexFramework),
			zap.Int("in", rec.EnteringVariable),
			zap.Int("out", rec.LeavingVariable),
			zap.Int("row_out", rec.RowOut),
			zap.Bool("flip", rec.Flipped),
			zap.Stringer("hint", rec.Hint),
			zap.Float64("theta_primal", rec.ThetaPrimal),
			zap.Float64("theta_dual", rec.ThetaDual),
			zap.Float64("alpha_col", rec.AlphaCol),
			zap.Float64("alpha_row", rec.AlphaRow),
			zap.Float64("numerical_trouble", rec.NumericalTrouble),
			zap.Float64("objective", rec.Objective),
			zap.Int("num_primal_infeasibilities", rec.NumPrimalInfeasibilities),
			zap.Float64("sum_primal_infeasibilities", rec.SumPrimalInfeasibilities),
		)
	}
}

func (z *Zap) Rebuild(rec simplex.RebuildRecord) {
	z.logger.Info("rebuild",
		zap.Stringer("phase", rec.Phase),
		zap.Int("iter", rec.Iteration),
		zap.Stringer("hint", rec.Hint),
		zap.Bool("reinverted", rec.Reinverted),
		zap.Int("updates", rec.UpdateCount),
		zap.Float64("objective", rec.Objective),
		zap.Float64("correction", rec.Correction),
		zap.Int("num_primal_infeasibilities", rec.NumPrimalInfeasibilities),
		zap.Float64("sum_primal_infeasibilities", rec.SumPrimalInfeasibilities),
		zap.Int("num_dual_infeasibilities", rec.NumDualInfeasibilities),
		zap.Float64("sum_dual_infeasibilities", rec.SumDualInfeasibilities),
	)
}

var _ simplex.Reporter = (*Zap)(nil)
