package instance

import (
	"math"
	"runtime"

	"github.com/lukpank/go-glpk/glpk"
	"github.com/pkg/errors"
	"q.log/primal/model"
)

// Reader reads a mps file to construct a model
type Reader struct {
	filename string
}

func NewReader(filename string) *Reader {
	return &Reader{
		filename: filename,
	}
}

// ConstructModelFromFile returns the LP in the file with its row and column
// bounds as given; no slack or artificial columns are added.
func (r *Reader) ConstructModelFromFile() (*model.Model, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	lp := glpk.New()
	defer lp.Delete()
	if err := lp.ReadMPS(glpk.MPS_FILE, nil, r.filename); err != nil {
		return nil, errors.Wrapf(err, "read mps %s", r.filename)
	}

	numRows, numCols := lp.NumRows(), lp.NumCols()
	m := model.NewModel(numRows, numCols)

	//populate obj function
	cVec := make([]float64, numCols)
	for c := range numCols {
		cVec[c] = lp.ObjCoef(c + 1)
	}
	if err := m.SetC(cVec); err != nil {
		return nil, err
	}
	m.Offset = lp.ObjCoef(0)
	m.Maximize = lp.ObjDir() == glpk.MAX

	//populate constraints
	aVec := make([]float64, numRows*numCols)
	rowLower := make([]float64, numRows)
	rowUpper := make([]float64, numRows)
	for r := range numRows {
		idxs, row := lp.MatRow(r + 1)
		for i, v := range idxs {
			if v == 0 {
				continue
			}
			aVec[r*numCols+v-1] = row[i]
		}
		rowLower[r] = lower(lp.RowLB(r + 1))
		rowUpper[r] = upper(lp.RowUB(r + 1))
	}
	if err := m.SetA(aVec); err != nil {
		return nil, err
	}
	if err := m.SetRowBounds(rowLower, rowUpper); err != nil {
		return nil, err
	}

	colLower := make([]float64, numCols)
	colUpper := make([]float64, numCols)
	for c := range numCols {
		colLower[c] = lower(lp.ColLB(c + 1))
		colUpper[c] = upper(lp.ColUB(c + 1))
	}
	if err := m.SetColBounds(colLower, colUpper); err != nil {
		return nil, err
	}

	return m, m.Validate()
}

// glpk reports a missing bound as ±MaxFloat64.
func lower(b float64) float64 {
	if b == -math.MaxFloat64 {
		return math.Inf(-1)
	}
	return b
}

func upper(b float64) float64 {
	if b == math.MaxFloat64 {
		return math.Inf(1)
	}
	return b
}
