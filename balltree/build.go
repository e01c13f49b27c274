package balltree

import (
	"math"

	"github.com/royalcat/rgeomatch/geomodel"
)

func (t *Index[T]) buildIndex() {
	n := len(t.points)

	t.idxs = make([]int, n)
	t.coords = make([]float64, 3*n)
	vecs := make([]float64, 3*n) // unit vectors, used only while partitioning

	for i, p := range t.points {
		lat := geomodel.Radians(p.Lat)
		lon := geomodel.Radians(p.Lon)
		cosLat := math.Cos(lat)

		t.idxs[i] = i
		t.coords[3*i] = lat
		t.coords[3*i+1] = lon
		t.coords[3*i+2] = cosLat

		vecs[3*i] = cosLat * math.Cos(lon)
		vecs[3*i+1] = cosLat * math.Sin(lon)
		vecs[3*i+2] = math.Sin(lat)
	}

	if n == 0 {
		return
	}

	t.nodes = make([]node, 0, 2*(n/t.nodeSize)+1)
	t.build(vecs, 0, n-1)
}

func (t *Index[T]) build(vecs []float64, left, right int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, node{left: left, right: right, children: [2]int{-1, -1}})
	t.boundNode(vecs, id)

	if right-left+1 <= t.nodeSize {
		return id
	}

	m := (left + right) / 2
	sselect(t.idxs, t.coords, vecs, m, left, right, widestAxis(vecs, left, right))

	l := t.build(vecs, left, m)
	r := t.build(vecs, m+1, right)
	t.nodes[id].children = [2]int{l, r}

	return id
}

// boundNode sets the cap of a node: the normalized centroid of its unit
// vectors and the largest angular distance from it to any member.
func (t *Index[T]) boundNode(vecs []float64, id int) {
	nd := &t.nodes[id]

	var x, y, z float64
	for i := nd.left; i <= nd.right; i++ {
		x += vecs[3*i]
		y += vecs[3*i+1]
		z += vecs[3*i+2]
	}

	norm := math.Sqrt(x*x + y*y + z*z)
	if norm < 1e-9 {
		// members cancel out (antipodal spread), any member works as a center
		nd.lat = t.coords[3*nd.left]
		nd.lon = t.coords[3*nd.left+1]
	} else {
		nd.lat = math.Asin(math.Max(-1, math.Min(1, z/norm)))
		nd.lon = math.Atan2(y, x)
	}
	nd.cosLat = math.Cos(nd.lat)

	var radius float64
	for i := nd.left; i <= nd.right; i++ {
		d := geomodel.HaversineRad(nd.lat, nd.lon, nd.cosLat, t.coords[3*i], t.coords[3*i+1], t.coords[3*i+2])
		if d > radius {
			radius = d
		}
	}
	nd.radius = radius
}

func widestAxis(vecs []float64, left, right int) int {
	axis := 0
	spread := -1.0
	for a := 0; a < 3; a++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := left; i <= right; i++ {
			v := vecs[3*i+a]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > spread {
			spread = hi - lo
			axis = a
		}
	}
	return axis
}

// sselect partially sorts slots [left, right] so that slot k holds the k-th
// smallest key along axis, with smaller keys before it and larger after
// (Floyd-Rivest selection).
func sselect(idxs []int, coords, vecs []float64, k, left, right, axis int) {
	for right > left {
		if right-left > 600 {
			n := right - left + 1
			m := k - left + 1
			z := math.Log(float64(n))
			s := 0.5 * math.Exp(2.0*z/3.0)
			sds := 1.0
			if float64(m)-float64(n)/2.0 < 0 {
				sds = -1.0
			}
			sd := 0.5 * math.Sqrt(z*s*(float64(n)-s)/float64(n)) * sds
			newLeft := max(left, floor(float64(k)-float64(m)*s/float64(n)+sd))
			newRight := min(right, floor(float64(k)+float64(n-m)*s/float64(n)+sd))
			sselect(idxs, coords, vecs, k, newLeft, newRight, axis)
		}

		pivot := vecs[3*k+axis]
		i := left
		j := right

		swapSlot(idxs, coords, vecs, left, k)
		if vecs[3*right+axis] > pivot {
			swapSlot(idxs, coords, vecs, left, right)
		}

		for i < j {
			swapSlot(idxs, coords, vecs, i, j)
			i++
			j--
			for vecs[3*i+axis] < pivot {
				i++
			}
			for vecs[3*j+axis] > pivot {
				j--
			}
		}

		if vecs[3*left+axis] == pivot {
			swapSlot(idxs, coords, vecs, left, j)
		} else {
			j++
			swapSlot(idxs, coords, vecs, j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func swapSlot(idxs []int, coords, vecs []float64, i, j int) {
	idxs[i], idxs[j] = idxs[j], idxs[i]
	for a := 0; a < 3; a++ {
		coords[3*i+a], coords[3*j+a] = coords[3*j+a], coords[3*i+a]
		vecs[3*i+a], vecs[3*j+a] = vecs[3*j+a], vecs[3*i+a]
	}
}

func floor(in float64) int {
	return int(math.Floor(in))
}
