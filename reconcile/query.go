package reconcile

import (
	"cmp"
	"slices"

	"github.com/royalcat/rgeomatch/balltree"
	"github.com/royalcat/rgeomatch/geomodel"
)

// Hit is a reference record found by a proximity query.
type Hit[R cmp.Ordered] struct {
	Record   geomodel.SensorRecord[R]
	Distance float64
}

// Nearest returns the k reference records closest to q.
func (r *Reconciler[R, O]) Nearest(q geomodel.GeoPoint, k int) ([]Hit[R], error) {
	nn, err := r.index.Nearest(q, k)
	if err != nil {
		return nil, err
	}
	return r.hits(nn), nil
}

// Within returns the reference records within meters of q, nearest first.
func (r *Reconciler[R, O]) Within(q geomodel.GeoPoint, meters float64) ([]Hit[R], error) {
	nn := []balltree.Neighbor{}
	err := r.index.Within(q, meters, func(n balltree.Neighbor) bool {
		nn = append(nn, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(nn, func(a, b balltree.Neighbor) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		return a.Ref - b.Ref
	})
	return r.hits(nn), nil
}

func (r *Reconciler[R, O]) hits(nn []balltree.Neighbor) []Hit[R] {
	out := make([]Hit[R], len(nn))
	for i, n := range nn {
		out[i] = Hit[R]{Record: r.refs[r.index.Point(n.Ref).Data], Distance: n.Distance}
	}
	return out
}
