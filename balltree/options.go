package balltree

import "github.com/royalcat/rgeomatch/geomodel"

const DefaultNodeSize = 40

type options struct {
	nodeSize    int
	earthRadius float64
}

func loadOptions(opts ...Option) options {
	o := options{
		nodeSize:    DefaultNodeSize,
		earthRadius: geomodel.EarthRadius,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

type Option interface {
	apply(*options)
}

type nodeSize int

func (n nodeSize) apply(o *options) {
	o.nodeSize = int(n)
}

// WithNodeSize sets the maximum number of points in a leaf. Default: 40
func WithNodeSize(n int) Option {
	return nodeSize(n)
}

type earthRadius float64

func (r earthRadius) apply(o *options) {
	o.earthRadius = float64(r)
}

// WithEarthRadius sets the sphere radius in meters. Default: 6371000
func WithEarthRadius(meters float64) Option {
	return earthRadius(meters)
}
