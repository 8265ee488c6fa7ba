package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimension = errors.New("model: dimension mismatch")
	ErrBounds    = errors.New("model: inconsistent bounds")
)

// Model is a linear program in bounded form
//
//	min (or max)  c'x + offset
//	s.t.          rowLower <= Ax <= rowUpper
//	              colLower <=  x <= colUpper
//
// Infinite bounds are math.Inf.
type Model struct {
	//C objective function coefficients
	C *mat.VecDense

	//A constraints matrix, nil while the model has no rows or no columns
	A *mat.Dense

	ColLower []float64
	ColUpper []float64
	RowLower []float64
	RowUpper []float64

	Offset   float64
	Maximize bool

	NumRows int
	NumCols int
}

// NewModel returns a model with zero costs and matrix, nonnegative columns
// and free rows.
func NewModel(numRows, numCols int) *Model {
	m := &Model{
		ColLower: make([]float64, numCols),
		ColUpper: make([]float64, numCols),
		RowLower: make([]float64, numRows),
		RowUpper: make([]float64, numRows),
		NumRows:  numRows,
		NumCols:  numCols,
	}
	if numCols > 0 {
		m.C = mat.NewVecDense(numCols, nil)
	}
	if numRows > 0 && numCols > 0 {
		m.A = mat.NewDense(numRows, numCols, nil)
	}
	for c := range numCols {
		m.ColUpper[c] = math.Inf(1)
	}
	for r := range numRows {
		m.RowLower[r] = math.Inf(-1)
		m.RowUpper[r] = math.Inf(1)
	}
	return m
}

func (m *Model) SetC(cVec []float64) error {
	if len(cVec) != m.NumCols {
		return errors.Wrap(ErrDimension, "number of variables")
	}
	if m.NumCols == 0 {
		return nil
	}
	m.C = mat.NewVecDense(m.NumCols, cVec)

	return nil
}

// SetA sets the constraint matrix from row-major data.
func (m *Model) SetA(aVec []float64) error {
	if len(aVec) != m.NumCols*m.NumRows {
		return errors.Wrap(ErrDimension, "number of variables and/or constraints")
	}
	if len(aVec) == 0 {
		return nil
	}
	m.A = mat.NewDense(m.NumRows, m.NumCols, aVec)

	return nil
}

func (m *Model) SetColBounds(lower, upper []float64) error {
	if len(lower) != m.NumCols || len(upper) != m.NumCols {
		return errors.Wrap(ErrDimension, "column bounds")
	}
	copy(m.ColLower, lower)
	copy(m.ColUpper, upper)
	return nil
}

func (m *Model) SetRowBounds(lower, upper []float64) error {
	if len(lower) != m.NumRows || len(upper) != m.NumRows {
		return errors.Wrap(ErrDimension, "row bounds")
	}
	copy(m.RowLower, lower)
	copy(m.RowUpper, upper)
	return nil
}

// AddCol appends a column with its cost and bounds.
func (m *Model) AddCol(cVec []float64, coef, lower, upper float64) error {
	if len(cVec) != m.NumRows {
		return errors.Wrap(ErrDimension, "wrong len of cVec")
	}

	if m.A == nil {
		if m.NumRows > 0 {
			m.A = mat.NewDense(m.NumRows, 1, append([]float64(nil), cVec...))
		}
	} else {
		m.A = mat.DenseCopyOf(m.A.Grow(0, 1))
		m.A.SetCol(m.NumCols, cVec)
	}

	costs := make([]float64, m.NumCols+1)
	if m.C != nil {
		copy(costs, m.C.RawVector().Data)
	}
	costs[m.NumCols] = coef
	m.C = mat.NewVecDense(m.NumCols+1, costs)

	m.ColLower = append(m.ColLower, lower)
	m.ColUpper = append(m.ColUpper, upper)
	m.NumCols++
	return nil
}

// AddRow appends a constraint lower <= rVec'x <= upper.
func (m *Model) AddRow(rVec []float64, lower, upper float64) error {
	if len(rVec) != m.NumCols {
		return errors.Wrap(ErrDimension, "wrong len of rVec")
	}

	if m.A == nil {
		if m.NumCols > 0 {
			m.A = mat.NewDense(1, m.NumCols, append([]float64(nil), rVec...))
		}
	} else {
		m.A = mat.DenseCopyOf(m.A.Grow(1, 0))
		m.A.SetRow(m.NumRows, rVec)
	}

	m.RowLower = append(m.RowLower, lower)
	m.RowUpper = append(m.RowUpper, upper)
	m.NumRows++
	return nil
}

// Cost returns the objective coefficient of column c.
func (m *Model) Cost(c int) float64 {
	if m.C == nil {
		return 0
	}
	return m.C.AtVec(c)
}

// Validate checks dimensions and that every finite bound pair is ordered.
func (m *Model) Validate() error {
	if len(m.ColLower) != m.NumCols || len(m.ColUpper) != m.NumCols ||
		len(m.RowLower) != m.NumRows || len(m.RowUpper) != m.NumRows {
		return ErrDimension
	}
	if m.A != nil {
		r, c := m.A.Dims()
		if r != m.NumRows || c != m.NumCols {
			return errors.Wrapf(ErrDimension, "A is %dx%d, model is %dx%d", r, c, m.NumRows, m.NumCols)
		}
	}
	for c := range m.NumCols {
		if err := checkBounds(m.ColLower[c], m.ColUpper[c]); err != nil {
			return errors.Wrapf(err, "column %d", c)
		}
	}
	for r := range m.NumRows {
		if err := checkBounds(m.RowLower[r], m.RowUpper[r]); err != nil {
			return errors.Wrapf(err, "row %d", r)
		}
	}
	return nil
}

func checkBounds(lower, upper float64) error {
	if math.IsNaN(lower) || math.IsNaN(upper) {
		return errors.Wrap(ErrBounds, "NaN bound")
	}
	if math.IsInf(lower, 1) || math.IsInf(upper, -1) || lower > upper {
		return errors.Wrapf(ErrBounds, "[%g, %g]", lower, upper)
	}
	return nil
}

// Objective evaluates c'x + offset.
func (m *Model) Objective(x []float64) float64 {
	if m.C == nil {
		return m.Offset
	}
	return floats.Dot(m.C.RawVector().Data, x) + m.Offset
}

// RowActivity returns Ax.
func (m *Model) RowActivity(x []float64) []float64 {
	activity := make([]float64, m.NumRows)
	if m.A == nil {
		return activity
	}
	dst := mat.NewVecDense(m.NumRows, activity)
	dst.MulVec(m.A, mat.NewVecDense(m.NumCols, x))
	return activity
}

func (m *Model) PrintC() {
	if m.C == nil {
		return
	}
	caux := mat.Formatted(m.C.T(), mat.Prefix("    "), mat.Squeeze())
	fmt.Printf("c = %v\n", caux)
	fmt.Println(m.NumCols)
}

func (m *Model) PrintA() {
	if m.A == nil {
		return
	}
	caux := mat.Formatted(m.A, mat.Prefix("    "), mat.Squeeze())
	fmt.Printf("A = %v\n", caux)
	r, c := m.A.Dims()
	fmt.Println(r, c)
}

func (m *Model) PrintBounds() {
	fmt.Printf("col lower = %v\ncol upper = %v\n", m.ColLower, m.ColUpper)
	fmt.Printf("row lower = %v\nrow upper = %v\n", m.RowLower, m.RowUpper)
}

// PrintSolution prints the objective value of x.
func (m *Model) PrintSolution(x []float64) {
	fmt.Printf("Z = %v\n", m.Objective(x))
}
