package config

import (
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalidOption = errors.New("config: invalid option")

// Options controls the primal simplex solver.
type Options struct {
	PrimalFeasibilityTolerance float64 `yaml:"primal_feasibility_tolerance"`
	DualFeasibilityTolerance   float64 `yaml:"dual_feasibility_tolerance"`

	// UpdateLimit is the number of basis updates after which the basis is
	// refactorized.
	UpdateLimit int `yaml:"update_limit"`

	// IterationLimit and TimeLimit bound the solve; zero means no limit.
	IterationLimit int      `yaml:"iteration_limit"`
	TimeLimit      Duration `yaml:"time_limit"`

	// InvertIfRowOutNegative disables skipping the refactorization when the
	// previous rebuild was triggered by failing to find an entering column.
	InvertIfRowOutNegative bool `yaml:"invert_if_row_out_negative"`

	// Phase2InfeasibleCleanup hands a dual feasible basis that lost primal
	// feasibility in phase 2 to a cleanup solver instead of returning to
	// phase 1.
	Phase2InfeasibleCleanup bool `yaml:"phase2_infeasible_cleanup"`

	// Debug enables consistency checks every iteration.
	Debug bool `yaml:"debug"`

	LogLevel string `yaml:"log_level"`
}

// Duration is a time.Duration written as a string ("30s") in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(ErrInvalidOption, "time_limit %q", s)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Default returns the default options.
func Default() Options {
	return Options{
		PrimalFeasibilityTolerance: 1e-7,
		DualFeasibilityTolerance:   1e-7,
		UpdateLimit:                100,
		LogLevel:                   "info",
	}
}

// Load reads options from a YAML file. Fields absent from the file keep
// their defaults.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parse config %s", path)
	}
	return opts, opts.Validate()
}

// Validate rejects tolerances and limits the solver cannot work with.
func (o Options) Validate() error {
	if !positive(o.PrimalFeasibilityTolerance) {
		return errors.Wrapf(ErrInvalidOption, "primal_feasibility_tolerance %g", o.PrimalFeasibilityTolerance)
	}
	if !positive(o.DualFeasibilityTolerance) {
		return errors.Wrapf(ErrInvalidOption, "dual_feasibility_tolerance %g", o.DualFeasibilityTolerance)
	}
	if o.UpdateLimit < 1 {
		return errors.Wrapf(ErrInvalidOption, "update_limit %d", o.UpdateLimit)
	}
	if o.IterationLimit < 0 {
		return errors.Wrapf(ErrInvalidOption, "iteration_limit %d", o.IterationLimit)
	}
	if o.TimeLimit.Duration < 0 {
		return errors.Wrapf(ErrInvalidOption, "time_limit %s", o.TimeLimit)
	}
	switch o.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalidOption, "log_level %q", o.LogLevel)
	}
	return nil
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}
