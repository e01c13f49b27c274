package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/mailru/easyjson/jlexer"
	"github.com/royalcat/rgeomatch/geomodel"
)

var ErrNotArray = errors.New("catalog document is not a JSON array")

// LoadJSON reads a catalog from a JSON array of objects with id, latitude
// and longitude keys. Values may be numbers or numeric strings. Other scalar
// keys are kept in Extra.
func LoadJSON(r io.Reader, source string) ([]geomodel.SensorRecord[int64], Report, error) {
	report := Report{Source: source, Format: FormatJSON, Skipped: []SkippedRecord{}}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, report, err
	}
	if b := bytes.TrimSpace(data); len(b) == 0 || b[0] != '[' {
		return nil, report, ErrNotArray
	}

	records := []geomodel.SensorRecord[int64]{}
	seen := map[int64]int{}

	l := jlexer.Lexer{Data: data}
	l.Delim('[')
	for pos := 0; !l.IsDelim(']'); pos++ {
		fields := readEntry(&l)
		if l.Error() != nil {
			break
		}
		l.WantComma()

		rec, err := fields.record()
		if err != nil {
			report.skip(pos, "%s", err)
			continue
		}
		if prev, ok := seen[rec.ID]; ok {
			report.skip(pos, "duplicate id %d, first seen at index %d", rec.ID, prev)
			continue
		}
		seen[rec.ID] = pos
		records = append(records, rec)
	}
	l.Delim(']')
	l.Consumed()
	if err := l.Error(); err != nil {
		return nil, report, fmt.Errorf("error decoding JSON: %w", err)
	}

	report.Loaded = len(records)
	return records, report, nil
}

type jsonValue struct {
	raw  []byte
	text string
}

// entry holds the raw values of one array element, nil when the element is
// not an object.
type entry map[string]jsonValue

func readEntry(l *jlexer.Lexer) entry {
	raw := l.Raw()
	if l.Error() != nil || len(raw) == 0 || raw[0] != '{' {
		return nil
	}

	out := entry{}
	in := jlexer.Lexer{Data: raw}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		v := in.Raw()
		in.WantComma()
		if in.Error() != nil {
			break
		}
		out[key] = jsonValue{raw: v}
	}
	return out
}

// scalar returns the textual form of a string, number or bool value.
func (v jsonValue) scalar() (string, bool) {
	if len(v.raw) == 0 {
		return "", false
	}
	switch c := v.raw[0]; {
	case c == '"':
		s := jlexer.Lexer{Data: v.raw}
		text := s.String()
		return text, s.Error() == nil
	case c == '-' || (c >= '0' && c <= '9'):
		return string(v.raw), true
	case c == 't' || c == 'f':
		return string(v.raw), true
	}
	return "", false
}

func (e entry) number(key string) (string, error) {
	v, ok := e[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	text, ok := v.scalar()
	if !ok || v.raw[0] == 't' || v.raw[0] == 'f' {
		return "", fmt.Errorf("invalid %s %s", key, v.raw)
	}
	return text, nil
}

func (e entry) record() (geomodel.SensorRecord[int64], error) {
	rec := geomodel.SensorRecord[int64]{}
	if e == nil {
		return rec, errors.New("entry is not an object")
	}

	idText, err := e.number("id")
	if err != nil {
		return rec, err
	}
	id, err := parseID(idText)
	if err != nil {
		return rec, err
	}

	var coords [2]float64
	for i, key := range []string{"latitude", "longitude"} {
		text, err := e.number(key)
		if err != nil {
			return rec, err
		}
		coords[i], err = strconv.ParseFloat(text, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid %s %q", key, text)
		}
	}
	p, err := geomodel.NewGeoPoint(coords[0], coords[1])
	if err != nil {
		return rec, err
	}

	rec.ID = id
	rec.Location = p
	for k, v := range e {
		if k == "id" || k == "latitude" || k == "longitude" {
			continue
		}
		text, ok := v.scalar()
		if !ok {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = map[string]string{}
		}
		rec.Extra[k] = text
	}
	return rec, nil
}

// parseID accepts integers and integral floats such as 12.0.
func parseID(text string) (int64, error) {
	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("invalid id %q", text)
	}
	return int64(f), nil
}
