// Package synth generates reference and observation catalogs with a known
// ground truth, for demos and benchmarks of the reconciler.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/fogleman/poissondisc"
	"github.com/paulmach/orb"
	"github.com/royalcat/rgeomatch/geomodel"
)

// meters per degree of latitude
const degreeLength = 2 * math.Pi * geomodel.EarthRadius / 360

type Config struct {
	// Bound of the generated area, X is longitude and Y latitude.
	Bound orb.Bound
	// Spacing is the minimum distance between references in meters.
	Spacing float64
	// Coverage is the share of references that get an observation.
	Coverage float64
	// Jitter is the maximum displacement of an observation from its
	// reference in meters.
	Jitter float64
	// Noise observations are placed uniformly with no reference behind them.
	Noise int
	// ObservationIDBase offsets observation ids so they never look like
	// reference ids.
	ObservationIDBase int64
	Seed              int64
}

func DefaultConfig() Config {
	return Config{
		Bound:             orb.Bound{Min: orb.Point{2.25, 48.8}, Max: orb.Point{2.45, 48.9}},
		Spacing:           300,
		Coverage:          0.9,
		Jitter:            60,
		Noise:             50,
		ObservationIDBase: 1_000_000,
		Seed:              1,
	}
}

type Dataset struct {
	References   []geomodel.SensorRecord[int64]
	Observations []geomodel.SensorRecord[int64]
	// Truth maps an observation id to the reference it was derived from.
	Truth map[int64]int64
}

func (cfg Config) validate() error {
	switch {
	case cfg.Spacing <= 0:
		return errors.New("spacing must be positive")
	case cfg.Coverage < 0 || cfg.Coverage > 1:
		return errors.New("coverage must be within [0, 1]")
	case cfg.Jitter < 0 || cfg.Noise < 0:
		return errors.New("jitter and noise must not be negative")
	}
	for _, p := range []orb.Point{cfg.Bound.Min, cfg.Bound.Max} {
		if err := geomodel.FromOrb(p).Validate(); err != nil {
			return fmt.Errorf("bound: %w", err)
		}
	}
	return nil
}

// Generate lays references out with poisson-disc sampling, so no two are
// closer than Spacing, and derives observations by moving a share of them in
// a random direction by at most Jitter.
func Generate(cfg Config) (Dataset, error) {
	if err := cfg.validate(); err != nil {
		return Dataset{}, err
	}
	rnd := rand.New(rand.NewSource(cfg.Seed))

	// longitude degrees shrink with latitude, sample in a locally isotropic
	// plane and scale back
	midLat := geomodel.Radians((cfg.Bound.Min.Lat() + cfg.Bound.Max.Lat()) / 2)
	lonScale := max(math.Cos(midLat), 0.01)
	spacing := cfg.Spacing / degreeLength

	samples := poissondisc.Sample(
		cfg.Bound.Min.Lon()*lonScale, cfg.Bound.Min.Lat(),
		cfg.Bound.Max.Lon()*lonScale, cfg.Bound.Max.Lat(),
		spacing, 30, rnd,
	)

	ds := Dataset{
		References:   make([]geomodel.SensorRecord[int64], 0, len(samples)),
		Observations: []geomodel.SensorRecord[int64]{},
		Truth:        map[int64]int64{},
	}
	for i, s := range samples {
		ds.References = append(ds.References, geomodel.SensorRecord[int64]{
			ID:       int64(i + 1),
			Location: geomodel.GeoPoint{Lat: s.Y, Lon: s.X / lonScale},
		})
	}

	nextID := cfg.ObservationIDBase
	for _, ref := range ds.References {
		if rnd.Float64() >= cfg.Coverage {
			continue
		}
		// sqrt keeps displaced points uniform over the disc
		d := cfg.Jitter * math.Sqrt(rnd.Float64())
		p := geomodel.Destination(ref.Location, rnd.Float64()*360, d, geomodel.EarthRadius)

		ds.Observations = append(ds.Observations, geomodel.SensorRecord[int64]{ID: nextID, Location: p})
		ds.Truth[nextID] = ref.ID
		nextID++
	}

	for range cfg.Noise {
		p := geomodel.GeoPoint{
			Lat: cfg.Bound.Min.Lat() + rnd.Float64()*(cfg.Bound.Max.Lat()-cfg.Bound.Min.Lat()),
			Lon: cfg.Bound.Min.Lon() + rnd.Float64()*(cfg.Bound.Max.Lon()-cfg.Bound.Min.Lon()),
		}
		ds.Observations = append(ds.Observations, geomodel.SensorRecord[int64]{ID: nextID, Location: p})
		nextID++
	}

	rnd.Shuffle(len(ds.Observations), func(i, j int) {
		ds.Observations[i], ds.Observations[j] = ds.Observations[j], ds.Observations[i]
	})

	return ds, nil
}
