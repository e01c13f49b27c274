package reconcile

import (
	"cmp"
	"log/slog"
	"time"
)

// Displacement is an observation that matched a reference within the radius
// but lost it to the collision policy.
type Displacement[R, O cmp.Ordered] struct {
	Observation O
	Reference   R
	Distance    float64
}

type Result[R, O cmp.Ordered] struct {
	RunID  string
	Policy Policy
	Radius float64

	Mapping *Mapping[R, O]
	// Unmatched observations had no reference within the radius, in input order.
	Unmatched []O
	// Displaced observations are ordered by input position.
	Displaced []Displacement[R, O]
	// Unclaimed references are not part of the mapping, in input order.
	Unclaimed []R

	Stats Stats
}

type Stats struct {
	References   int `json:"references"`
	Observations int `json:"observations"`
	Matched      int `json:"matched"`
	Unmatched    int `json:"unmatched"`
	Displaced    int `json:"displaced"`
	Unclaimed    int `json:"unclaimed"`
	// Collisions counts every claim on an already claimed reference.
	Collisions int `json:"collisions"`
	// Contested counts references left out by RejectCollisions.
	Contested int `json:"contested"`

	MaxDistance  float64 `json:"max_distance"`
	MeanDistance float64 `json:"mean_distance"`

	IndexBuild time.Duration `json:"index_build_ns"`
	Query      time.Duration `json:"query_ns"`
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("references", s.References),
		slog.Int("observations", s.Observations),
		slog.Int("matched", s.Matched),
		slog.Int("unmatched", s.Unmatched),
		slog.Int("displaced", s.Displaced),
		slog.Int("unclaimed", s.Unclaimed),
		slog.Int("collisions", s.Collisions),
		slog.Int("contested", s.Contested),
		slog.Float64("max_distance", s.MaxDistance),
		slog.Float64("mean_distance", s.MeanDistance),
		slog.Duration("index_build", s.IndexBuild),
		slog.Duration("query", s.Query),
	)
}
