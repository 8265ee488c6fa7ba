// Package sparse holds the reusable buffers the simplex engine solves into:
// a sparse accumulator vector and an indexed set with O(1) removal.
package sparse

import "math"

const (
	// TinyValue stands in for an entry that cancelled to zero but whose
	// position is already recorded in Index.
	TinyValue = 1e-50

	// dropTolerance is the magnitude below which Tight discards an entry.
	dropTolerance = 1e-14

	// clearDensity is the fill ratio above which Clear rezeroes the whole
	// dense array instead of walking Index.
	clearDensity = 0.3
)

// Vector is a sparse accumulator: a dense Array of length Size plus the list
// of positions Index[0:Count] that may be nonzero.
//
// Only Array entries listed in Index[0:Count] are meaningful after a solve.
// Entries outside the list must be zero; Clear relies on that and only
// rezeroes listed positions unless the vector is dense.
type Vector struct {
	Size  int
	Count int
	Index []int
	Array []float64
}

// NewVector returns a cleared vector of the given size.
func NewVector(size int) *Vector {
	return &Vector{
		Size:  size,
		Index: make([]int, size),
		Array: make([]float64, size),
	}
}

// Clear zeroes the vector. Positions listed in Index are rezeroed one by one
// when the vector is sparse, otherwise the whole array is.
func (v *Vector) Clear() {
	if v.Count < 0 || float64(v.Count) > clearDensity*float64(v.Size) {
		for i := range v.Array {
			v.Array[i] = 0
		}
	} else {
		for _, i := range v.Index[:v.Count] {
			v.Array[i] = 0
		}
	}
	v.Count = 0
}

// Add accumulates value at position i, recording i the first time it becomes
// nonzero. A cancelled entry keeps its slot as TinyValue.
func (v *Vector) Add(i int, value float64) {
	if value == 0 {
		return
	}
	was := v.Array[i]
	now := was + value
	if was == 0 {
		v.Index[v.Count] = i
		v.Count++
	}
	if math.Abs(now) < dropTolerance {
		now = TinyValue
	}
	v.Array[i] = now
}

// Set overwrites position i, recording it if it was zero. Zeroing a listed
// entry leaves TinyValue so the index stays duplicate free.
func (v *Vector) Set(i int, value float64) {
	was := v.Array[i]
	switch {
	case was == 0 && value == 0:
		return
	case was == 0:
		v.Index[v.Count] = i
		v.Count++
	case value == 0:
		value = TinyValue
	}
	v.Array[i] = value
}

// Reindex rebuilds Index by scanning the dense array. Used after an
// operation that writes Array densely.
func (v *Vector) Reindex() {
	v.Count = 0
	for i, x := range v.Array {
		if x == 0 {
			continue
		}
		if math.Abs(x) < dropTolerance {
			v.Array[i] = 0
			continue
		}
		v.Index[v.Count] = i
		v.Count++
	}
}

// Tight drops listed entries whose magnitude is negligible.
func (v *Vector) Tight() {
	n := 0
	for _, i := range v.Index[:v.Count] {
		if math.Abs(v.Array[i]) < dropTolerance {
			v.Array[i] = 0
			continue
		}
		v.Index[n] = i
		n++
	}
	v.Count = n
}

// Density is Count/Size.
func (v *Vector) Density() float64 {
	if v.Size == 0 {
		return 0
	}
	return float64(v.Count) / float64(v.Size)
}

// CopyFrom makes v an exact copy of src, which must have the same size.
func (v *Vector) CopyFrom(src *Vector) {
	v.Clear()
	for _, i := range src.Index[:src.Count] {
		v.Array[i] = src.Array[i]
		v.Index[v.Count] = i
		v.Count++
	}
}

// Nonzeros returns the listed positions, for range loops.
func (v *Vector) Nonzeros() []int {
	return v.Index[:v.Count]
}
