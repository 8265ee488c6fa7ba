// Package matrix keeps compressed column-wise and row-wise copies of the
// constraint matrix and performs the products the simplex engine needs:
// collecting a column into a sparse buffer, and PRICE (row vector times
// the nonbasic part of the matrix).
package matrix

import (
	"q.log/primal/model"
	"q.log/primal/sparse"
)

// HyperPrice is the input density below which Price gathers row-wise
// instead of scanning every column.
const HyperPrice = 0.10

// Matrix is the constraint matrix A of a model with numRow rows and numCol
// structural columns. Variable iCol >= numCol is the logical of row
// iCol-numCol, whose column is the unit vector.
type Matrix struct {
	numCol int
	numRow int

	// column-wise
	aStart []int
	aIndex []int
	aValue []float64

	// row-wise
	arStart []int
	arIndex []int
	arValue []float64

	// nonbasic[iCol] for structural columns; PRICE skips basic columns.
	nonbasic []bool
}

// New copies the nonzeros of m.A. Every structural starts nonbasic.
func New(m *model.Model) *Matrix {
	a := &Matrix{
		numCol:   m.NumCols,
		numRow:   m.NumRows,
		aStart:   make([]int, m.NumCols+1),
		arStart:  make([]int, m.NumRows+1),
		nonbasic: make([]bool, m.NumCols),
	}
	rowCount := make([]int, m.NumRows)
	for c := range m.NumCols {
		a.nonbasic[c] = true
		for r := range m.NumRows {
			v := m.A.At(r, c)
			if v == 0 {
				continue
			}
			a.aIndex = append(a.aIndex, r)
			a.aValue = append(a.aValue, v)
			rowCount[r]++
		}
		a.aStart[c+1] = len(a.aIndex)
	}

	for r := range m.NumRows {
		a.arStart[r+1] = a.arStart[r] + rowCount[r]
	}
	a.arIndex = make([]int, len(a.aIndex))
	a.arValue = make([]float64, len(a.aValue))
	next := append([]int(nil), a.arStart[:m.NumRows]...)
	for c := range m.NumCols {
		for k := a.aStart[c]; k < a.aStart[c+1]; k++ {
			r := a.aIndex[k]
			a.arIndex[next[r]] = c
			a.arValue[next[r]] = a.aValue[k]
			next[r]++
		}
	}
	return a
}

func (a *Matrix) NumCol() int { return a.numCol }
func (a *Matrix) NumRow() int { return a.numRow }

// NumNonzero is the number of stored structural entries.
func (a *Matrix) NumNonzero() int { return len(a.aValue) }

// CollectColumn adds multiplier times column iCol into v.
func (a *Matrix) CollectColumn(v *sparse.Vector, iCol int, multiplier float64) {
	if iCol >= a.numCol {
		v.Add(iCol-a.numCol, multiplier)
		return
	}
	for k := a.aStart[iCol]; k < a.aStart[iCol+1]; k++ {
		v.Add(a.aIndex[k], multiplier*a.aValue[k])
	}
}

// Dot returns the inner product of the dense row vector x with column iCol.
func (a *Matrix) Dot(x []float64, iCol int) float64 {
	if iCol >= a.numCol {
		return x[iCol-a.numCol]
	}
	var sum float64
	for k := a.aStart[iCol]; k < a.aStart[iCol+1]; k++ {
		sum += x[a.aIndex[k]] * a.aValue[k]
	}
	return sum
}

// SetPartition marks which structurals are nonbasic from a flag vector over
// all variables (nonzero means nonbasic).
func (a *Matrix) SetPartition(nonbasicFlag []int) {
	for c := range a.numCol {
		a.nonbasic[c] = nonbasicFlag[c] != 0
	}
}

// UpdatePartition records the basis change columnIn in, columnOut out.
func (a *Matrix) UpdatePartition(columnIn, columnOut int) {
	if columnIn < a.numCol {
		a.nonbasic[columnIn] = false
	}
	if columnOut < a.numCol {
		a.nonbasic[columnOut] = true
	}
}

// Price computes result = input'A over the nonbasic structurals, choosing
// the row-wise gather when input is sparse enough.
func (a *Matrix) Price(result, input *sparse.Vector) {
	if input.Density() < HyperPrice {
		a.PriceByRow(result, input)
	} else {
		a.PriceByColumn(result, input)
	}
}

// PriceByColumn computes each nonbasic column's inner product with input.
func (a *Matrix) PriceByColumn(result, input *sparse.Vector) {
	result.Clear()
	for c := range a.numCol {
		if !a.nonbasic[c] {
			continue
		}
		var sum float64
		for k := a.aStart[c]; k < a.aStart[c+1]; k++ {
			sum += input.Array[a.aIndex[k]] * a.aValue[k]
		}
		result.Set(c, sum)
	}
	result.Tight()
}

// PriceByRow gathers the rows selected by input's nonzeros.
func (a *Matrix) PriceByRow(result, input *sparse.Vector) {
	result.Clear()
	for _, r := range input.Nonzeros() {
		multiplier := input.Array[r]
		for k := a.arStart[r]; k < a.arStart[r+1]; k++ {
			c := a.arIndex[k]
			if !a.nonbasic[c] {
				continue
			}
			result.Add(c, multiplier*a.arValue[k])
		}
	}
	result.Tight()
}
