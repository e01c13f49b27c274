// Package balltree implements a static ball tree over geographic points with
// great-circle (haversine) distance.
//
// Every node covers a contiguous range of the permuted point slots and carries
// a bounding cap: a center on the sphere and the angular radius enclosing all
// of its points. Queries prune a node when the distance from the query point to
// the cap center minus the cap radius already exceeds the search limit.
package balltree

import (
	"fmt"
	"math"

	"github.com/royalcat/rgeomatch/geomodel"
)

// Point is an input point. Data is carried through untouched.
type Point[T any] struct {
	Lat, Lon float64
	Data     T
}

// Neighbor is a query hit. Ref is the position of the point in the slice the
// index was built from; Distance is in meters.
type Neighbor struct {
	Ref      int
	Distance float64
}

// pruneSlack absorbs rounding in the triangle inequality so that points lying
// exactly on a search boundary are never pruned.
const pruneSlack = 1e-12

type node struct {
	left, right int    // inclusive slot range
	children    [2]int // -1 for leaves

	lat, lon, cosLat float64 // cap center, radians
	radius           float64 // cap angular radius
}

type Index[T any] struct {
	nodeSize    int
	earthRadius float64
	points      []Point[T]

	idxs   []int     // slot -> back-reference
	coords []float64 // lat, lon, cos(lat) in radians per slot
	nodes  []node
}

// New builds an index over points. The slice is retained and must not be
// modified afterwards.
func New[T any](points []Point[T], opts ...Option) (*Index[T], error) {
	options := loadOptions(opts...)
	if options.nodeSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeSize, options.nodeSize)
	}
	if !(options.earthRadius > 0) || math.IsInf(options.earthRadius, 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEarthRadius, options.earthRadius)
	}

	for i, p := range points {
		if err := (geomodel.GeoPoint{Lat: p.Lat, Lon: p.Lon}).Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}

	idx := &Index[T]{
		nodeSize:    options.nodeSize,
		earthRadius: options.earthRadius,
		points:      points,
	}
	idx.buildIndex()
	return idx, nil
}

func (t *Index[T]) Len() int {
	return len(t.points)
}

func (t *Index[T]) EarthRadius() float64 {
	return t.earthRadius
}

// Point returns the input point of the given back-reference.
func (t *Index[T]) Point(ref int) Point[T] {
	return t.points[ref]
}

// Distance returns the distance in meters between a and b using exactly the
// metric the queries use.
func (t *Index[T]) Distance(a, b geomodel.GeoPoint) float64 {
	return geomodel.Haversine(a, b, t.earthRadius)
}

// QueryRadius returns the back-references of all points within meters of q,
// bound included. The order of the result is unspecified.
func (t *Index[T]) QueryRadius(q geomodel.GeoPoint, meters float64) ([]int, error) {
	result := []int{}
	err := t.Within(q, meters, func(n Neighbor) bool {
		result = append(result, n.Ref)
		return true
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Within calls handler for every point within meters of q until handler
// returns false.
func (t *Index[T]) Within(q geomodel.GeoPoint, meters float64, handler func(n Neighbor) bool) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, meters)
	}
	if len(t.nodes) == 0 {
		return nil
	}

	qlat, qlon := geomodel.Radians(q.Lat), geomodel.Radians(q.Lon)
	qcos := math.Cos(qlat)
	limit := meters/t.earthRadius + pruneSlack

	stack := make([]int, 0, 64)
	stack = append(stack, 0)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := &t.nodes[id]

		if geomodel.HaversineRad(qlat, qlon, qcos, nd.lat, nd.lon, nd.cosLat)-nd.radius > limit {
			continue
		}

		if nd.children[0] < 0 {
			for i := nd.left; i <= nd.right; i++ {
				dst := t.slotDistance(qlat, qlon, qcos, i)
				if dst <= meters {
					if !handler(Neighbor{Ref: t.idxs[i], Distance: dst}) {
						return nil
					}
				}
			}
			continue
		}

		stack = append(stack, nd.children[1], nd.children[0])
	}

	return nil
}

type candidate struct {
	id    int
	bound float64 // lower bound of angular distance to any point of the node
}

// Nearest returns the k points closest to q in ascending distance. Equal
// distances are ordered by back-reference. Fewer than k points are returned
// when the index holds fewer.
func (t *Index[T]) Nearest(q geomodel.GeoPoint, k int) ([]Neighbor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	if len(t.nodes) == 0 {
		return []Neighbor{}, nil
	}

	qlat, qlon := geomodel.Radians(q.Lat), geomodel.Radians(q.Lon)
	qcos := math.Cos(qlat)

	best := make([]Neighbor, 0, min(k, len(t.points)))

	stack := make([]candidate, 0, 64)
	stack = append(stack, candidate{id: 0, bound: t.capBound(0, qlat, qlon, qcos)})

	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(best) == k && c.bound > best[k-1].Distance/t.earthRadius+pruneSlack {
			continue
		}

		nd := &t.nodes[c.id]
		if nd.children[0] < 0 {
			for i := nd.left; i <= nd.right; i++ {
				best = insertNeighbor(best, k, Neighbor{
					Ref:      t.idxs[i],
					Distance: t.slotDistance(qlat, qlon, qcos, i),
				})
			}
			continue
		}

		l := candidate{id: nd.children[0], bound: t.capBound(nd.children[0], qlat, qlon, qcos)}
		r := candidate{id: nd.children[1], bound: t.capBound(nd.children[1], qlat, qlon, qcos)}
		// nearer child is popped first
		if l.bound <= r.bound {
			stack = append(stack, r, l)
		} else {
			stack = append(stack, l, r)
		}
	}

	return best, nil
}

func (t *Index[T]) capBound(id int, qlat, qlon, qcos float64) float64 {
	nd := &t.nodes[id]
	return geomodel.HaversineRad(qlat, qlon, qcos, nd.lat, nd.lon, nd.cosLat) - nd.radius
}

func (t *Index[T]) slotDistance(qlat, qlon, qcos float64, slot int) float64 {
	return t.earthRadius * geomodel.HaversineRad(qlat, qlon, qcos, t.coords[3*slot], t.coords[3*slot+1], t.coords[3*slot+2])
}

func neighborLess(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Ref < b.Ref
}

// insertNeighbor keeps best sorted and at most k long.
func insertNeighbor(best []Neighbor, k int, n Neighbor) []Neighbor {
	if len(best) == k {
		if !neighborLess(n, best[k-1]) {
			return best
		}
		best = best[:k-1]
	}

	i := len(best)
	for i > 0 && neighborLess(n, best[i-1]) {
		i--
	}
	best = append(best, Neighbor{})
	copy(best[i+1:], best[i:])
	best[i] = n
	return best
}
