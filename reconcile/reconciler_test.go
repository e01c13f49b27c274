package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"testing"

	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/reconcile"
	"github.com/thejerf/slogassert"
)

const collisionMessage = "Reference claimed by multiple observations"

func quiet() reconcile.Option {
	return reconcile.WithLogger(slog.New(slog.DiscardHandler))
}

func ref(id int64, lat, lon float64) geomodel.SensorRecord[int64] {
	return geomodel.SensorRecord[int64]{ID: id, Location: geomodel.GeoPoint{Lat: lat, Lon: lon}}
}

func obs(id string, p geomodel.GeoPoint) geomodel.SensorRecord[string] {
	return geomodel.SensorRecord[string]{ID: id, Location: p}
}

func TestSingleMatch(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0), ref(2, 1, 1)}
	observations := []geomodel.SensorRecord[string]{obs("A", geomodel.GeoPoint{Lat: 0.0005, Lon: 0.0005})}

	res, err := reconcile.Reconcile(context.Background(), refs, observations, reconcile.WithRadius(100), quiet())
	if err != nil {
		t.Fatal(err)
	}

	got := res.Mapping.Map()
	if len(got) != 1 || got[1] != "A" {
		t.Fatalf("expected {1: A}; got %v", got)
	}
	if !slices.Equal(res.Unclaimed, []int64{2}) {
		t.Fatalf("expected reference 2 unclaimed; got %v", res.Unclaimed)
	}
	if len(res.Unmatched) != 0 || len(res.Displaced) != 0 {
		t.Fatalf("expected no unmatched or displaced observations; got %v, %v", res.Unmatched, res.Displaced)
	}

	m, ok := res.Mapping.Match(1)
	if !ok || m.Distance < 78 || m.Distance > 79 {
		t.Fatalf("expected a match at about 78.6m; got %v", m)
	}
	if res.Stats.Matched != 1 || res.Stats.Unclaimed != 1 || res.Stats.References != 2 || res.Stats.Observations != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if res.RunID == "" {
		t.Fatalf("expected a run id")
	}
}

func TestObservationBeyondRadius(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 48.85, 2.35)}
	far := geomodel.Destination(refs[0].Location, 45, 150, geomodel.EarthRadius)
	observations := []geomodel.SensorRecord[string]{obs("A", far)}

	res, err := reconcile.Reconcile(context.Background(), refs, observations, quiet())
	if err != nil {
		t.Fatal(err)
	}

	if res.Mapping.Len() != 0 {
		t.Fatalf("expected empty mapping; got %v", res.Mapping.Map())
	}
	if !slices.Equal(res.Unmatched, []string{"A"}) {
		t.Fatalf("expected A unmatched; got %v", res.Unmatched)
	}
	if !slices.Equal(res.Unclaimed, []int64{1}) {
		t.Fatalf("expected reference 1 unclaimed; got %v", res.Unclaimed)
	}
}

func TestRadiusBoundaryIncluded(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 10, 10)}
	p := geomodel.Destination(refs[0].Location, 120, 100, geomodel.EarthRadius)
	d := geomodel.Haversine(p, refs[0].Location, geomodel.EarthRadius)

	res, err := reconcile.Reconcile(context.Background(), refs, []geomodel.SensorRecord[string]{obs("A", p)},
		reconcile.WithRadius(d), quiet())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Mapping.Get(1); !ok {
		t.Fatalf("observation exactly at the radius must match")
	}
}

// two observations claim reference 1: A at 60m and B at 30m
func collisionInput() ([]geomodel.SensorRecord[int64], []geomodel.SensorRecord[string]) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0), ref(2, 0.01, 0.01)}
	observations := []geomodel.SensorRecord[string]{
		obs("A", geomodel.Destination(refs[0].Location, 10, 60, geomodel.EarthRadius)),
		obs("B", geomodel.Destination(refs[0].Location, 200, 30, geomodel.EarthRadius)),
	}
	return refs, observations
}

func TestCollisionPolicies(t *testing.T) {
	tests := []struct {
		policy    reconcile.Policy
		mapping   map[int64]string
		displaced []string
		unclaimed []int64
		contested int
	}{
		{reconcile.ClosestWins, map[int64]string{1: "B"}, []string{"A"}, []int64{2}, 0},
		{reconcile.FirstWins, map[int64]string{1: "A"}, []string{"B"}, []int64{2}, 0},
		{reconcile.LastWins, map[int64]string{1: "B"}, []string{"A"}, []int64{2}, 0},
		{reconcile.RejectCollisions, map[int64]string{}, []string{"A", "B"}, []int64{1, 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			handler := slogassert.New(t, slog.LevelWarn, nil)
			refs, observations := collisionInput()

			res, err := reconcile.Reconcile(context.Background(), refs, observations,
				reconcile.WithPolicy(tt.policy),
				reconcile.WithLogger(slog.New(handler)),
			)
			if err != nil {
				t.Fatal(err)
			}

			handler.AssertMessage(collisionMessage)

			got := res.Mapping.Map()
			if len(got) != len(tt.mapping) {
				t.Fatalf("expected mapping %v; got %v", tt.mapping, got)
			}
			for k, v := range tt.mapping {
				if got[k] != v {
					t.Fatalf("expected mapping %v; got %v", tt.mapping, got)
				}
			}

			displaced := []string{}
			for _, d := range res.Displaced {
				if d.Reference != 1 {
					t.Fatalf("unexpected displaced reference %d", d.Reference)
				}
				displaced = append(displaced, d.Observation)
			}
			if !slices.Equal(displaced, tt.displaced) {
				t.Fatalf("expected displaced %v; got %v", tt.displaced, displaced)
			}
			if !slices.Equal(res.Unclaimed, tt.unclaimed) {
				t.Fatalf("expected unclaimed %v; got %v", tt.unclaimed, res.Unclaimed)
			}
			if res.Stats.Collisions != 1 || res.Stats.Contested != tt.contested {
				t.Fatalf("unexpected stats %+v", res.Stats)
			}
			if res.Policy != tt.policy {
				t.Fatalf("expected policy %s in result; got %s", tt.policy, res.Policy)
			}
		})
	}
}

func TestClosestWinsTieKeepsEarlier(t *testing.T) {
	handler := slogassert.New(t, slog.LevelWarn, nil)
	refs := []geomodel.SensorRecord[int64]{ref(7, 0, 0)}
	observations := []geomodel.SensorRecord[string]{
		obs("east", geomodel.GeoPoint{Lat: 0, Lon: 0.0003}),
		obs("west", geomodel.GeoPoint{Lat: 0, Lon: -0.0003}),
	}

	res, err := reconcile.Reconcile(context.Background(), refs, observations, reconcile.WithLogger(slog.New(handler)))
	if err != nil {
		t.Fatal(err)
	}
	handler.AssertMessage(collisionMessage)

	if o, _ := res.Mapping.Get(7); o != "east" {
		t.Fatalf("expected the earlier observation to keep the reference; got %q", o)
	}
}

func TestRejectCollisionsThreeClaimants(t *testing.T) {
	handler := slogassert.New(t, slog.LevelWarn, nil)
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0)}
	observations := []geomodel.SensorRecord[string]{
		obs("a", geomodel.GeoPoint{Lat: 0.0001, Lon: 0}),
		obs("b", geomodel.GeoPoint{Lat: 0.0002, Lon: 0}),
		obs("c", geomodel.GeoPoint{Lat: 0.0003, Lon: 0}),
	}

	res, err := reconcile.Reconcile(context.Background(), refs, observations,
		reconcile.WithPolicy(reconcile.RejectCollisions),
		reconcile.WithLogger(slog.New(handler)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if n := handler.AssertSomeMessage(collisionMessage); n != 2 {
		t.Fatalf("expected 2 collision warnings; got %d", n)
	}

	if res.Mapping.Len() != 0 {
		t.Fatalf("expected empty mapping; got %v", res.Mapping.Map())
	}
	if len(res.Displaced) != 3 || res.Stats.Collisions != 2 || res.Stats.Contested != 1 {
		t.Fatalf("unexpected result %+v", res.Stats)
	}
}

func TestEmptyReferences(t *testing.T) {
	observations := []geomodel.SensorRecord[string]{
		obs("A", geomodel.GeoPoint{Lat: 1, Lon: 1}),
		obs("B", geomodel.GeoPoint{Lat: 2, Lon: 2}),
	}
	res, err := reconcile.Reconcile[int64](context.Background(), nil, observations, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if res.Mapping.Len() != 0 || !slices.Equal(res.Unmatched, []string{"A", "B"}) {
		t.Fatalf("expected every observation unmatched; got %v", res.Unmatched)
	}
}

func TestEmptyObservations(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0), ref(2, 1, 1)}
	res, err := reconcile.Reconcile[int64, string](context.Background(), refs, nil, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Unclaimed, []int64{1, 2}) {
		t.Fatalf("expected every reference unclaimed; got %v", res.Unclaimed)
	}
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0), ref(1, 1, 1)}
	if _, err := reconcile.New[int64, string](ctx, refs, quiet()); !errors.Is(err, geomodel.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for references; got %v", err)
	}

	refs = []geomodel.SensorRecord[int64]{ref(1, 0, 200)}
	if _, err := reconcile.New[int64, string](ctx, refs, quiet()); !errors.Is(err, geomodel.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate for references; got %v", err)
	}

	refs = []geomodel.SensorRecord[int64]{ref(1, 0, 0)}
	if _, err := reconcile.New[int64, string](ctx, refs, reconcile.WithRadius(-1), quiet()); !errors.Is(err, reconcile.ErrInvalidRadius) {
		t.Errorf("expected ErrInvalidRadius; got %v", err)
	}
	if _, err := reconcile.New[int64, string](ctx, refs, reconcile.WithPolicy(reconcile.Policy(42)), quiet()); !errors.Is(err, reconcile.ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy; got %v", err)
	}

	r, err := reconcile.New[int64, string](ctx, refs, quiet())
	if err != nil {
		t.Fatal(err)
	}
	dup := []geomodel.SensorRecord[string]{obs("A", geomodel.GeoPoint{}), obs("A", geomodel.GeoPoint{Lat: 1})}
	if _, err := r.Reconcile(ctx, dup); !errors.Is(err, geomodel.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for observations; got %v", err)
	}
	bad := []geomodel.SensorRecord[string]{obs("A", geomodel.GeoPoint{Lat: -95})}
	if _, err := r.Reconcile(ctx, bad); !errors.Is(err, geomodel.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate for observations; got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0)}
	r, err := reconcile.New[int64, string](context.Background(), refs, quiet())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Reconcile(ctx, []geomodel.SensorRecord[string]{obs("A", geomodel.GeoPoint{})})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}

type synthetic struct {
	refs []geomodel.SensorRecord[int64]
	obs  []geomodel.SensorRecord[int64]
}

// every reference gets up to three observations scattered within 150m, so
// collisions and misses both happen
func syntheticCatalogs(seed int64, n int) synthetic {
	rnd := rand.New(rand.NewSource(seed))
	s := synthetic{}
	for i := 0; i < n; i++ {
		p := geomodel.GeoPoint{Lat: 40 + rnd.Float64()*0.2, Lon: -3.8 + rnd.Float64()*0.2}
		s.refs = append(s.refs, geomodel.SensorRecord[int64]{ID: int64(1000 + i), Location: p})
		for j := rnd.Intn(4); j > 0; j-- {
			o := geomodel.Destination(p, rnd.Float64()*360, rnd.Float64()*150, geomodel.EarthRadius)
			s.obs = append(s.obs, geomodel.SensorRecord[int64]{ID: int64(len(s.obs)), Location: o})
		}
	}
	rnd.Shuffle(len(s.obs), func(i, j int) { s.obs[i], s.obs[j] = s.obs[j], s.obs[i] })
	return s
}

func TestParallelMatchesSequential(t *testing.T) {
	s := syntheticCatalogs(1, 3000)

	for _, policy := range []reconcile.Policy{reconcile.ClosestWins, reconcile.FirstWins, reconcile.LastWins, reconcile.RejectCollisions} {
		t.Run(policy.String(), func(t *testing.T) {
			seq, err := reconcile.Reconcile(context.Background(), s.refs, s.obs, reconcile.WithPolicy(policy), quiet())
			if err != nil {
				t.Fatal(err)
			}
			par, err := reconcile.Reconcile(context.Background(), s.refs, s.obs, reconcile.WithPolicy(policy), reconcile.WithWorkers(8), quiet())
			if err != nil {
				t.Fatal(err)
			}

			if seq.Stats.Collisions == 0 || seq.Stats.Unmatched == 0 {
				t.Fatalf("synthetic input should produce collisions and misses: %+v", seq.Stats)
			}
			if !slices.Equal(seq.Mapping.Matches(), par.Mapping.Matches()) {
				t.Fatalf("mappings differ")
			}
			if !slices.Equal(seq.Unmatched, par.Unmatched) || !slices.Equal(seq.Unclaimed, par.Unclaimed) || !slices.Equal(seq.Displaced, par.Displaced) {
				t.Fatalf("diagnostics differ")
			}
			seq.Stats.IndexBuild, seq.Stats.Query = 0, 0
			par.Stats.IndexBuild, par.Stats.Query = 0, 0
			if seq.Stats != par.Stats {
				t.Fatalf("stats differ: %+v vs %+v", seq.Stats, par.Stats)
			}
		})
	}
}

func TestResultInvariants(t *testing.T) {
	s := syntheticCatalogs(2, 2000)
	res, err := reconcile.Reconcile(context.Background(), s.refs, s.obs, reconcile.WithWorkers(0), quiet())
	if err != nil {
		t.Fatal(err)
	}

	// every observation is exactly one of matched, unmatched or displaced
	seen := map[int64]string{}
	mark := func(id int64, kind string) {
		if prev, ok := seen[id]; ok {
			t.Fatalf("observation %d is both %s and %s", id, prev, kind)
		}
		seen[id] = kind
	}
	prevRef := int64(-1)
	res.Mapping.Ascend(func(m reconcile.Match[int64, int64]) bool {
		if m.Reference <= prevRef {
			t.Fatalf("mapping is not ordered by reference")
		}
		prevRef = m.Reference
		if m.Distance > res.Radius {
			t.Fatalf("match beyond the radius: %v", m)
		}
		mark(m.Observation, "matched")
		return true
	})
	for _, id := range res.Unmatched {
		mark(id, "unmatched")
	}
	for _, d := range res.Displaced {
		mark(d.Observation, "displaced")
	}
	if len(seen) != len(s.obs) {
		t.Fatalf("expected %d observations accounted for; got %d", len(s.obs), len(seen))
	}
	if res.Mapping.Len()+len(res.Unclaimed) != len(s.refs) {
		t.Fatalf("references not accounted for")
	}
}

func TestProgress(t *testing.T) {
	s := syntheticCatalogs(3, 100)
	calls := 0
	last := 0
	_, err := reconcile.Reconcile(context.Background(), s.refs, s.obs, quiet(),
		reconcile.WithProgress(func(done, total int) {
			calls++
			last = done
			if total != len(s.obs) {
				t.Errorf("expected total %d; got %d", len(s.obs), total)
			}
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if calls != len(s.obs) || last != len(s.obs) {
		t.Fatalf("expected %d progress calls ending at total; got %d ending at %d", len(s.obs), calls, last)
	}
}

func TestProgressParallel(t *testing.T) {
	s := syntheticCatalogs(5, 400)
	var seen []int
	_, err := reconcile.Reconcile(context.Background(), s.refs, s.obs, quiet(),
		reconcile.WithWorkers(8),
		reconcile.WithProgress(func(done, total int) {
			seen = append(seen, done)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) == 0 || seen[len(seen)-1] != len(s.obs) {
		t.Fatalf("expected progress to end at %d; got %v", len(s.obs), seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("progress went from %d to %d", seen[i-1], seen[i])
		}
	}
}

func TestQueries(t *testing.T) {
	refs := []geomodel.SensorRecord[int64]{ref(1, 0, 0), ref(2, 0, 0.001), ref(3, 0, 0.01)}
	r, err := reconcile.New[int64, string](context.Background(), refs, quiet())
	if err != nil {
		t.Fatal(err)
	}

	hits, err := r.Within(geomodel.GeoPoint{Lat: 0, Lon: 0.0009}, 200)
	if err != nil {
		t.Fatal(err)
	}
	ids := []int64{}
	for _, h := range hits {
		ids = append(ids, h.Record.ID)
	}
	if !slices.Equal(ids, []int64{2, 1}) {
		t.Fatalf("expected [2 1] nearest first; got %v", ids)
	}

	nn, err := r.Nearest(geomodel.GeoPoint{Lat: 0, Lon: 0.009}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(nn) != 1 || nn[0].Record.ID != 3 {
		t.Fatalf("expected reference 3; got %v", nn)
	}
}

func ExampleReconcile() {
	refs := []geomodel.SensorRecord[int64]{
		{ID: 1, Location: geomodel.GeoPoint{Lat: 0, Lon: 0}},
		{ID: 2, Location: geomodel.GeoPoint{Lat: 1, Lon: 1}},
	}
	observations := []geomodel.SensorRecord[string]{
		{ID: "A", Location: geomodel.GeoPoint{Lat: 0.0005, Lon: 0.0005}},
	}

	res, err := reconcile.Reconcile(context.Background(), refs, observations,
		reconcile.WithRadius(100),
		reconcile.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		panic(err)
	}

	fmt.Println(res.Mapping.Map(), res.Unclaimed)
	// Output: map[1:A] [2]
}
