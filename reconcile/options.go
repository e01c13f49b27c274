package reconcile

import (
	"log/slog"

	"github.com/royalcat/rgeomatch/balltree"
	"github.com/royalcat/rgeomatch/geomodel"
)

// DefaultRadius is the acceptance radius in meters.
const DefaultRadius float64 = 100

type options struct {
	radius      float64
	earthRadius float64
	nodeSize    int
	policy      Policy
	workers     int
	logger      *slog.Logger
	progress    func(done, total int)
}

func loadOptions(opts ...Option) options {
	options := options{
		radius:      DefaultRadius,
		earthRadius: geomodel.EarthRadius,
		nodeSize:    balltree.DefaultNodeSize,
		policy:      ClosestWins,
		workers:     1,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o.apply(&options)
	}
	return options
}

type Option interface {
	apply(*options)
}

type radius float64

func (r radius) apply(o *options) {
	o.radius = float64(r)
}

// WithRadius sets the acceptance radius in meters. Default: 100
func WithRadius(meters float64) Option {
	return radius(meters)
}

type earthRadius float64

func (r earthRadius) apply(o *options) {
	o.earthRadius = float64(r)
}

// WithEarthRadius overrides the sphere radius used for distances. Default: 6371000
func WithEarthRadius(meters float64) Option {
	return earthRadius(meters)
}

type nodeSize int

func (n nodeSize) apply(o *options) {
	o.nodeSize = int(n)
}

func WithNodeSize(n int) Option {
	return nodeSize(n)
}

func (p Policy) apply(o *options) {
	o.policy = p
}

// WithPolicy sets how a reference claimed by several observations is resolved. Default: ClosestWins
func WithPolicy(p Policy) Option {
	return p
}

type workers int

func (w workers) apply(o *options) {
	o.workers = int(w)
}

// WithWorkers sets the number of goroutines querying observations, 0 means GOMAXPROCS. Default: 1
func WithWorkers(n int) Option {
	return workers(n)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

func WithLogger(log *slog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = log
	})
}

// WithProgress sets a callback reporting finished observation queries. Calls
// never overlap and done only grows; with several workers a call may cover
// more than one query.
func WithProgress(fn func(done, total int)) Option {
	return optionFunc(func(o *options) {
		o.progress = fn
	})
}
