package geomodel

import (
	"cmp"
	"errors"
	"fmt"
)

var ErrDuplicateID = errors.New("duplicate record id")

// SensorRecord is one sensor of a catalog. Extra carries auxiliary columns of
// the source untouched.
type SensorRecord[ID cmp.Ordered] struct {
	ID       ID                `json:"id"`
	Location GeoPoint          `json:"location"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// ValidateRecords checks coordinates and id uniqueness of a catalog.
func ValidateRecords[ID cmp.Ordered](records []SensorRecord[ID]) error {
	seen := make(map[ID]int, len(records))
	for i, r := range records {
		if err := r.Location.Validate(); err != nil {
			return fmt.Errorf("record %v at position %d: %w", r.ID, i, err)
		}
		if j, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %v at positions %d and %d", ErrDuplicateID, r.ID, j, i)
		}
		seen[r.ID] = i
	}
	return nil
}

func Locations[ID cmp.Ordered](records []SensorRecord[ID]) []GeoPoint {
	out := make([]GeoPoint, len(records))
	for i, r := range records {
		out[i] = r.Location
	}
	return out
}
