package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"q.log/primal/config"
	"q.log/primal/instance"
	"q.log/primal/report"
	"q.log/primal/simplex"
)

var (
	configPath     string
	verbose        bool
	timeLimit      time.Duration
	iterationLimit int
	printModel     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "primal",
	Short: "Primal simplex solver for linear programs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var solveCmd = &cobra.Command{
	Use:   "solve <file.mps>",
	Short: "Solve the LP in an MPS file",
	Args:  cobra.ExactArgs(1),
	RunE:  solve,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every iteration")
	solveCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML solver options")
	solveCmd.Flags().DurationVar(&timeLimit, "time-limit", 0, "Stop after this long (0: no limit)")
	solveCmd.Flags().IntVar(&iterationLimit, "iteration-limit", 0, "Stop after this many iterations (0: no limit)")
	solveCmd.Flags().BoolVar(&printModel, "print", false, "Print the model and the solution")
	rootCmd.AddCommand(solveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadOptions(cmd *cobra.Command) (config.Options, error) {
	opts := config.Default()
	if configPath != "" {
		var err error
		if opts, err = config.Load(configPath); err != nil {
			return opts, err
		}
	}
	if cmd.Flags().Changed("time-limit") {
		opts.TimeLimit = config.Duration{Duration: timeLimit}
	}
	if cmd.Flags().Changed("iteration-limit") {
		opts.IterationLimit = iterationLimit
	}
	return opts, opts.Validate()
}

func solve(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if lvl, err := zapcore.ParseLevel(opts.LogLevel); err == nil && !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl))
	}

	m, err := instance.NewReader(args[0]).ConstructModelFromFile()
	if err != nil {
		return err
	}
	logger.Info("model loaded",
		zap.String("file", args[0]),
		zap.Int("rows", m.NumRows),
		zap.Int("cols", m.NumCols))
	if printModel {
		m.PrintC()
		m.PrintA()
		m.PrintBounds()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := simplex.NewSession(m, opts, logger)
	if err != nil {
		return err
	}
	res, err := simplex.NewPrimal(s, report.NewZap(logger)).Solve(ctx)
	if err != nil {
		return err
	}

	logger.Info("solve finished",
		zap.Stringer("status", res.Status),
		zap.Float64("objective", res.Objective),
		zap.Int("iterations", res.Iterations),
		zap.Int("phase1_iterations", res.Phase1Iterations),
		zap.Int("phase2_iterations", res.Phase2Iterations))
	fmt.Printf("Status: %s\n", res.Status)
	if res.Status == simplex.StatusOptimal {
		fmt.Printf("Z = %v\n", res.Objective)
	}
	if printModel {
		m.PrintSolution(s.Solution().ColValue)
	}
	return nil
}
