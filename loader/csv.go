package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/royalcat/rgeomatch/geomodel"
)

var ErrMissingColumn = errors.New("missing required column")

var columnAliases = map[string]string{
	"id":        "id",
	"latitude":  "latitude",
	"lat":       "latitude",
	"longitude": "longitude",
	"lon":       "longitude",
	"lng":       "longitude",
}

type csvColumns struct {
	id, lat, lon int
	names        []string
}

func parseHeader(header []string) (csvColumns, error) {
	cols := csvColumns{id: -1, lat: -1, lon: -1, names: header}
	for i, h := range header {
		switch columnAliases[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] {
		case "id":
			cols.id = i
		case "latitude":
			cols.lat = i
		case "longitude":
			cols.lon = i
		}
	}
	switch {
	case cols.id < 0:
		return cols, fmt.Errorf("%w: id", ErrMissingColumn)
	case cols.lat < 0:
		return cols, fmt.Errorf("%w: latitude", ErrMissingColumn)
	case cols.lon < 0:
		return cols, fmt.Errorf("%w: longitude", ErrMissingColumn)
	}
	return cols, nil
}

// LoadCSV reads a catalog with a header row naming id, latitude and longitude
// columns. Remaining columns are kept in Extra.
func LoadCSV(r io.Reader, source string) ([]geomodel.SensorRecord[int64], Report, error) {
	report := Report{Source: source, Format: FormatCSV, Skipped: []SkippedRecord{}}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, report, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, report, fmt.Errorf("error reading header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, report, err
	}

	records := []geomodel.SensorRecord[int64]{}
	seen := map[int64]int{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.skip(perr.Line, "%s", perr.Err)
				continue
			}
			return nil, report, err
		}
		line, _ := cr.FieldPos(0)

		if len(row) != len(header) {
			report.skip(line, "expected %d columns, got %d", len(header), len(row))
			continue
		}

		rec, err := cols.record(row)
		if err != nil {
			report.skip(line, "%s", err)
			continue
		}
		if prev, ok := seen[rec.ID]; ok {
			report.skip(line, "duplicate id %d, first seen on line %d", rec.ID, prev)
			continue
		}
		seen[rec.ID] = line
		records = append(records, rec)
	}

	report.Loaded = len(records)
	return records, report, nil
}

func (c csvColumns) record(row []string) (geomodel.SensorRecord[int64], error) {
	rec := geomodel.SensorRecord[int64]{}

	id, err := strconv.ParseInt(strings.TrimSpace(row[c.id]), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid id %q", row[c.id])
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[c.lat]), 64)
	if err != nil {
		return rec, fmt.Errorf("invalid latitude %q", row[c.lat])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[c.lon]), 64)
	if err != nil {
		return rec, fmt.Errorf("invalid longitude %q", row[c.lon])
	}
	p, err := geomodel.NewGeoPoint(lat, lon)
	if err != nil {
		return rec, err
	}

	rec.ID = id
	rec.Location = p
	for i, v := range row {
		if i == c.id || i == c.lat || i == c.lon {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string, len(row)-3)
		}
		rec.Extra[c.names[i]] = v
	}
	return rec, nil
}
