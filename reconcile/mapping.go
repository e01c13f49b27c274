package reconcile

import (
	"cmp"

	"github.com/google/btree"
)

// Match is one accepted reference/observation pair.
type Match[R, O cmp.Ordered] struct {
	Reference   R
	Observation O
	Distance    float64
}

// Mapping holds at most one match per reference id, ordered by reference id.
type Mapping[R, O cmp.Ordered] struct {
	tree *btree.BTreeG[Match[R, O]]
}

func newMapping[R, O cmp.Ordered]() *Mapping[R, O] {
	return &Mapping[R, O]{
		tree: btree.NewG(16, func(a, b Match[R, O]) bool {
			return a.Reference < b.Reference
		}),
	}
}

func (m *Mapping[R, O]) Len() int {
	return m.tree.Len()
}

// Get returns the observation mapped to the reference.
func (m *Mapping[R, O]) Get(ref R) (O, bool) {
	match, ok := m.tree.Get(Match[R, O]{Reference: ref})
	return match.Observation, ok
}

func (m *Mapping[R, O]) Match(ref R) (Match[R, O], bool) {
	return m.tree.Get(Match[R, O]{Reference: ref})
}

// Ascend iterates matches in ascending reference order until fn returns false.
func (m *Mapping[R, O]) Ascend(fn func(match Match[R, O]) bool) {
	m.tree.Ascend(func(item Match[R, O]) bool {
		return fn(item)
	})
}

func (m *Mapping[R, O]) Matches() []Match[R, O] {
	out := make([]Match[R, O], 0, m.tree.Len())
	m.Ascend(func(match Match[R, O]) bool {
		out = append(out, match)
		return true
	})
	return out
}

func (m *Mapping[R, O]) Map() map[R]O {
	out := make(map[R]O, m.tree.Len())
	m.Ascend(func(match Match[R, O]) bool {
		out[match.Reference] = match.Observation
		return true
	})
	return out
}

func (m *Mapping[R, O]) set(match Match[R, O]) {
	m.tree.ReplaceOrInsert(match)
}
