// Package factor maintains an invertible representation of the simplex basis
// matrix B: a dense LU factorization of the basis at the last Build, followed
// by one product-form eta per basis change since.
//
// FTRAN solves B x = b and BTRAN solves B' x = b, both in place on a
// sparse.Vector indexed by basis row.
package factor

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"q.log/primal/sparse"
)

var (
	ErrDimension = errors.New("factor: dimension mismatch")
	ErrNoInvert  = errors.New("factor: no factorization")
)

// Reason is what Update reports about the stability of a basis change.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonPossiblySingular means the pivot was too small to apply; the
	// factorization is unchanged and must be rebuilt.
	ReasonPossiblySingular
)

const (
	// pivotTolerance is the smallest |pivot| an update accepts.
	pivotTolerance = 1e-11

	// rankTolerance scales the largest |U_ii| to decide which diagonal
	// entries count as zero.
	rankTolerance = 1e-12
)

// ColumnSource supplies the columns of the constraint matrix, including unit
// columns for logicals.
type ColumnSource interface {
	NumRow() int
	CollectColumn(v *sparse.Vector, iCol int, multiplier float64)
}

type eta struct {
	row   int
	pivot float64
	index []int
	value []float64
}

func (e *eta) ftran(x []float64) {
	xp := x[e.row]
	if xp == 0 {
		return
	}
	xp /= e.pivot
	x[e.row] = xp
	for k, i := range e.index {
		x[i] -= e.value[k] * xp
	}
}

func (e *eta) btran(x []float64) {
	sum := x[e.row]
	for k, i := range e.index {
		sum -= e.value[k] * x[i]
	}
	x[e.row] = sum / e.pivot
}

// Factor is the invertible representation. It is not safe for concurrent
// use.
type Factor struct {
	numRow int
	lu     *mat.LU
	etas   []eta

	rhs    *mat.VecDense
	column *sparse.Vector
}

// Invert is a snapshot of a Factor. It stays valid across later Build and
// Update calls on the Factor it came from.
type Invert struct {
	numRow int
	lu     *mat.LU
	etas   []eta
}

func New(numRow int) *Factor {
	f := &Factor{numRow: numRow}
	if numRow > 0 {
		f.rhs = mat.NewVecDense(numRow, nil)
		f.column = sparse.NewVector(numRow)
	}
	return f
}

func (f *Factor) NumRow() int { return f.numRow }

// NumUpdates is the number of basis changes applied since the last Build.
func (f *Factor) NumUpdates() int { return len(f.etas) }

// Build factorizes the basis whose i-th column is column basicIndex[i] of a.
// It returns the number of columns that are linearly dependent on the
// others; the factorization is only usable when that is zero.
func (f *Factor) Build(a ColumnSource, basicIndex []int) (int, error) {
	if f.numRow == 0 || a.NumRow() != f.numRow || len(basicIndex) != f.numRow {
		return 0, errors.Wrapf(ErrDimension, "basis of %d for %d rows", len(basicIndex), f.numRow)
	}
	b := mat.NewDense(f.numRow, f.numRow, nil)
	for i, iVar := range basicIndex {
		f.column.Clear()
		a.CollectColumn(f.column, iVar, 1)
		for _, r := range f.column.Nonzeros() {
			b.Set(r, i, f.column.Array[r])
		}
	}
	f.column.Clear()

	lu := &mat.LU{}
	lu.Factorize(b)
	f.lu = lu
	f.etas = nil
	return f.rankDeficiency(), nil
}

func (f *Factor) rankDeficiency() int {
	var u mat.TriDense
	f.lu.UTo(&u)
	var largest float64
	for i := range f.numRow {
		largest = math.Max(largest, math.Abs(u.At(i, i)))
	}
	if largest == 0 {
		return f.numRow
	}
	deficiency := 0
	for i := range f.numRow {
		if math.Abs(u.At(i, i)) <= rankTolerance*largest {
			deficiency++
		}
	}
	return deficiency
}

// Ftran overwrites v with the solution of B x = v.
func (f *Factor) Ftran(v *sparse.Vector) error {
	if err := f.check(v); err != nil {
		return err
	}
	copy(f.rhs.RawVector().Data, v.Array)
	dst := mat.NewVecDense(f.numRow, v.Array)
	if err := f.lu.SolveVecTo(dst, false, f.rhs); err != nil && !isCondition(err) {
		return errors.Wrap(err, "ftran")
	}
	for k := range f.etas {
		f.etas[k].ftran(v.Array)
	}
	v.Reindex()
	return nil
}

// Btran overwrites v with the solution of B' x = v.
func (f *Factor) Btran(v *sparse.Vector) error {
	if err := f.check(v); err != nil {
		return err
	}
	for k := len(f.etas) - 1; k >= 0; k-- {
		f.etas[k].btran(v.Array)
	}
	copy(f.rhs.RawVector().Data, v.Array)
	dst := mat.NewVecDense(f.numRow, v.Array)
	if err := f.lu.SolveVecTo(dst, true, f.rhs); err != nil && !isCondition(err) {
		return errors.Wrap(err, "btran")
	}
	v.Reindex()
	return nil
}

// Update replaces the basic variable of rowOut. aq must be the FTRAN of the
// entering column and ep the BTRAN of the unit vector for rowOut, both with
// respect to the current basis.
func (f *Factor) Update(aq, ep *sparse.Vector, rowOut int) Reason {
	if f.lu == nil || rowOut < 0 || rowOut >= f.numRow {
		return ReasonPossiblySingular
	}
	pivot := aq.Array[rowOut]
	if math.Abs(pivot) < pivotTolerance || ep.Count == 0 {
		return ReasonPossiblySingular
	}
	e := eta{row: rowOut, pivot: pivot}
	for _, i := range aq.Nonzeros() {
		if i == rowOut || aq.Array[i] == 0 {
			continue
		}
		e.index = append(e.index, i)
		e.value = append(e.value, aq.Array[i])
	}
	f.etas = append(f.etas, e)
	return ReasonNone
}

// Invert captures the current representation.
func (f *Factor) Invert() *Invert {
	return &Invert{
		numRow: f.numRow,
		lu:     f.lu,
		etas:   f.etas[:len(f.etas):len(f.etas)],
	}
}

// SetInvert restores a representation captured by Invert, so that FTRAN and
// BTRAN solve with the basis it was taken from.
func (f *Factor) SetInvert(inv *Invert) error {
	if inv == nil || inv.numRow != f.numRow {
		return ErrDimension
	}
	f.lu = inv.lu
	f.etas = inv.etas
	return nil
}

func (f *Factor) check(v *sparse.Vector) error {
	if f.lu == nil {
		return ErrNoInvert
	}
	if len(v.Array) != f.numRow {
		return errors.Wrapf(ErrDimension, "vector of %d for %d rows", len(v.Array), f.numRow)
	}
	return nil
}

func isCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
