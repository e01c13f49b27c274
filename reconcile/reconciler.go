// Package reconcile maps observation sensors onto reference sensors: every
// observation claims its nearest reference when that reference lies within
// the acceptance radius, and claims on the same reference are reduced by a
// collision Policy.
package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/royalcat/rgeomatch/balltree"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidRadius = balltree.ErrInvalidRadius

// Reconciler owns the index over one reference catalog. It is read-only
// after New, so Reconcile may run concurrently.
type Reconciler[R, O cmp.Ordered] struct {
	refs  []geomodel.SensorRecord[R]
	index *balltree.Index[int]

	radius   float64
	policy   Policy
	workers  int
	progress func(done, total int)
	log      *slog.Logger
	metrics  *metrics

	buildDuration time.Duration
}

// Reconcile is a shortcut building a Reconciler over refs and running it once.
func Reconcile[R, O cmp.Ordered](ctx context.Context, refs []geomodel.SensorRecord[R], obs []geomodel.SensorRecord[O], opts ...Option) (*Result[R, O], error) {
	r, err := New[R, O](ctx, refs, opts...)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, obs)
}

// New validates the reference catalog and builds its index.
func New[R, O cmp.Ordered](ctx context.Context, refs []geomodel.SensorRecord[R], opts ...Option) (*Reconciler[R, O], error) {
	options := loadOptions(opts...)
	if math.IsNaN(options.radius) || math.IsInf(options.radius, 0) || options.radius < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRadius, options.radius)
	}
	if !options.policy.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, int(options.policy))
	}
	if options.workers <= 0 {
		options.workers = runtime.GOMAXPROCS(0)
	}
	log := options.logger.With("component", "reconciler")

	_, span := tracer.Start(ctx, "reconcile.build_index", trace.WithAttributes(
		attribute.Int("references", len(refs)),
	))
	defer span.End()

	if err := geomodel.ValidateRecords(refs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reference catalog: %w", err)
	}

	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	log.Info("Building reference index", "references", len(refs), "node_size", options.nodeSize)
	start := time.Now()

	points := make([]balltree.Point[int], len(refs))
	for i, r := range refs {
		points[i] = balltree.Point[int]{Lat: r.Location.Lat, Lon: r.Location.Lon, Data: i}
	}
	index, err := balltree.New(points,
		balltree.WithNodeSize(options.nodeSize),
		balltree.WithEarthRadius(options.earthRadius),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error building reference index: %w", err)
	}

	buildDuration := time.Since(start)
	log.Debug("Reference index built", "elapsed", buildDuration)

	return &Reconciler[R, O]{
		refs:          refs,
		index:         index,
		radius:        options.radius,
		policy:        options.policy,
		workers:       options.workers,
		progress:      options.progress,
		log:           log,
		metrics:       m,
		buildDuration: buildDuration,
	}, nil
}

func (r *Reconciler[R, O]) Radius() float64 {
	return r.radius
}

func (r *Reconciler[R, O]) Policy() Policy {
	return r.policy
}

func (r *Reconciler[R, O]) References() []geomodel.SensorRecord[R] {
	return r.refs
}

// candidate is the outcome of one observation query. ref is -1 when nothing
// lies within the radius.
type candidate struct {
	ref      int
	distance float64
}

type claim struct {
	obs       int
	distance  float64
	contested bool
}

// Reconcile matches every observation against the reference index and
// reduces collisions according to the policy. Results do not depend on the
// number of workers.
func (r *Reconciler[R, O]) Reconcile(ctx context.Context, obs []geomodel.SensorRecord[O]) (*Result[R, O], error) {
	ctx, span := tracer.Start(ctx, "reconcile.run", trace.WithAttributes(
		attribute.Int("references", len(r.refs)),
		attribute.Int("observations", len(obs)),
		attribute.String("policy", r.policy.String()),
		attribute.Float64("radius", r.radius),
	))
	defer span.End()

	if err := geomodel.ValidateRecords(obs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("observation catalog: %w", err)
	}

	start := time.Now()
	candidates, err := r.queryAll(ctx, obs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	queryDuration := time.Since(start)

	res := r.reduce(obs, candidates)
	res.Stats.IndexBuild = r.buildDuration
	res.Stats.Query = queryDuration

	policyAttr := metric.WithAttributes(attribute.String("policy", r.policy.String()))
	r.metrics.matched.Add(ctx, int64(res.Stats.Matched), policyAttr)
	r.metrics.unmatched.Add(ctx, int64(res.Stats.Unmatched), policyAttr)
	r.metrics.collisions.Add(ctx, int64(res.Stats.Collisions), policyAttr)
	r.metrics.query.Record(ctx, queryDuration.Seconds(), policyAttr)

	span.SetAttributes(
		attribute.Int("matched", res.Stats.Matched),
		attribute.Int("collisions", res.Stats.Collisions),
	)
	r.log.Info("Reconciliation complete", "run_id", res.RunID, "policy", r.policy.String(), "radius", r.radius, "stats", res.Stats)

	return res, nil
}

func (r *Reconciler[R, O]) queryAll(ctx context.Context, obs []geomodel.SensorRecord[O]) ([]candidate, error) {
	candidates := make([]candidate, len(obs))
	done := xsync.NewCounter()

	// reports are serialized and only ever move forward
	var (
		progressMu sync.Mutex
		reported   int
	)
	report := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		if v := int(done.Value()); v > reported {
			reported = v
			r.progress(v, len(obs))
		}
	}

	query := func(i int) error {
		nn, err := r.index.Nearest(obs[i].Location, 1)
		if err != nil {
			return fmt.Errorf("observation %v: %w", obs[i].ID, err)
		}

		candidates[i] = candidate{ref: -1, distance: math.Inf(1)}
		if len(nn) > 0 {
			candidates[i].distance = nn[0].Distance
			if nn[0].Distance <= r.radius {
				candidates[i].ref = nn[0].Ref
			}
		}

		if r.progress != nil {
			done.Inc()
			report()
		}
		return nil
	}

	if r.workers <= 1 || len(obs) < 2*r.workers {
		for i := range obs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := query(i); err != nil {
				return nil, err
			}
		}
		return candidates, nil
	}

	// every worker owns a disjoint range of candidate slots
	p := pool.New().WithMaxGoroutines(r.workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	chunk := (len(obs) + 4*r.workers - 1) / (4 * r.workers)
	for start := 0; start < len(obs); start += chunk {
		end := min(start+chunk, len(obs))
		p.Go(func(ctx context.Context) error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := query(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	return candidates, nil
}

type displacedAt[R, O cmp.Ordered] struct {
	pos int
	Displacement[R, O]
}

// reduce walks the candidates in observation order and applies the policy.
func (r *Reconciler[R, O]) reduce(obs []geomodel.SensorRecord[O], candidates []candidate) *Result[R, O] {
	res := &Result[R, O]{
		RunID:     uuid.NewString(),
		Policy:    r.policy,
		Radius:    r.radius,
		Mapping:   newMapping[R, O](),
		Unmatched: []O{},
		Displaced: []Displacement[R, O]{},
		Unclaimed: []R{},
	}

	claims := make(map[int]*claim)
	displaced := []displacedAt[R, O]{}
	displace := func(pos, ref int, d float64) {
		displaced = append(displaced, displacedAt[R, O]{pos: pos, Displacement: Displacement[R, O]{
			Observation: obs[pos].ID,
			Reference:   r.refs[ref].ID,
			Distance:    d,
		}})
	}

	for i, c := range candidates {
		if c.ref < 0 {
			res.Unmatched = append(res.Unmatched, obs[i].ID)
			r.log.Debug("Observation unmatched", "observation", obs[i].ID, "nearest_distance", c.distance)
			continue
		}

		current, ok := claims[c.ref]
		if !ok {
			claims[c.ref] = &claim{obs: i, distance: c.distance}
			continue
		}

		res.Stats.Collisions++

		if r.policy == RejectCollisions {
			if !current.contested {
				current.contested = true
				displace(current.obs, c.ref, current.distance)
			}
			displace(i, c.ref, c.distance)
			r.log.Warn("Reference claimed by multiple observations",
				"reference", r.refs[c.ref].ID,
				"observation", obs[i].ID,
				"policy", r.policy.String(),
				"kept", "none",
			)
			continue
		}

		if r.policy.replaces(*current, c.distance) {
			displace(current.obs, c.ref, current.distance)
			*current = claim{obs: i, distance: c.distance}
		} else {
			displace(i, c.ref, c.distance)
		}
		r.log.Warn("Reference claimed by multiple observations",
			"reference", r.refs[c.ref].ID,
			"observation", obs[i].ID,
			"policy", r.policy.String(),
			"kept", obs[current.obs].ID,
		)
	}

	for ref, c := range claims {
		if c.contested {
			res.Stats.Contested++
			continue
		}
		res.Mapping.set(Match[R, O]{
			Reference:   r.refs[ref].ID,
			Observation: obs[c.obs].ID,
			Distance:    c.distance,
		})
	}

	var sumDistance float64
	res.Mapping.Ascend(func(m Match[R, O]) bool {
		sumDistance += m.Distance
		res.Stats.MaxDistance = max(res.Stats.MaxDistance, m.Distance)
		return true
	})

	for i, ref := range r.refs {
		if c, ok := claims[i]; !ok || c.contested {
			res.Unclaimed = append(res.Unclaimed, ref.ID)
		}
	}

	slices.SortStableFunc(displaced, func(a, b displacedAt[R, O]) int {
		return a.pos - b.pos
	})
	for _, d := range displaced {
		res.Displaced = append(res.Displaced, d.Displacement)
	}

	res.Stats.References = len(r.refs)
	res.Stats.Observations = len(obs)
	res.Stats.Matched = res.Mapping.Len()
	res.Stats.Unmatched = len(res.Unmatched)
	res.Stats.Displaced = len(res.Displaced)
	res.Stats.Unclaimed = len(res.Unclaimed)
	if res.Stats.Matched > 0 {
		res.Stats.MeanDistance = sumDistance / float64(res.Stats.Matched)
	}

	return res
}
