package sparse

import "github.com/pkg/errors"

// IndexSet is a set of integers in [0, maxEntry] with O(1) Add, Remove and
// Contains. Entries are kept densely in insertion order, and pointer maps an
// entry back to its slot so removal can swap the last entry into the gap.
type IndexSet struct {
	entry   []int
	pointer []int
	count   int
}

const absent = -1

// NewIndexSet returns an empty set able to hold capacity entries drawn from
// [0, maxEntry].
func NewIndexSet(capacity, maxEntry int) *IndexSet {
	s := &IndexSet{
		entry:   make([]int, 0, capacity),
		pointer: make([]int, maxEntry+1),
	}
	for i := range s.pointer {
		s.pointer[i] = absent
	}
	return s
}

// Clear empties the set, touching only the current entries.
func (s *IndexSet) Clear() {
	for _, e := range s.entry[:s.count] {
		s.pointer[e] = absent
	}
	s.entry = s.entry[:0]
	s.count = 0
}

// Add inserts e and reports whether it was absent.
func (s *IndexSet) Add(e int) bool {
	if e < 0 || e >= len(s.pointer) || s.pointer[e] != absent {
		return false
	}
	s.pointer[e] = s.count
	s.entry = append(s.entry, e)
	s.count++
	return true
}

// Remove deletes e and reports whether it was present.
func (s *IndexSet) Remove(e int) bool {
	if !s.Contains(e) {
		return false
	}
	slot := s.pointer[e]
	last := s.entry[s.count-1]
	s.entry[slot] = last
	s.pointer[last] = slot
	s.pointer[e] = absent
	s.entry = s.entry[:s.count-1]
	s.count--
	return true
}

// Contains reports whether e is in the set.
func (s *IndexSet) Contains(e int) bool {
	return e >= 0 && e < len(s.pointer) && s.pointer[e] != absent
}

// Count is the number of entries.
func (s *IndexSet) Count() int { return s.count }

// Entries returns the entries in slot order. The slice is owned by the set.
func (s *IndexSet) Entries() []int { return s.entry[:s.count] }

// Check verifies that entry and pointer agree.
func (s *IndexSet) Check() error {
	seen := 0
	for e, slot := range s.pointer {
		if slot == absent {
			continue
		}
		seen++
		if slot >= s.count || s.entry[slot] != e {
			return errors.Errorf("index set: entry %d points at slot %d", e, slot)
		}
	}
	if seen != s.count {
		return errors.Errorf("index set: %d pointers for %d entries", seen, s.count)
	}
	return nil
}
