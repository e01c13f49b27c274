package synth

import (
	"encoding/csv"
	"io"
	"slices"
	"strconv"

	"github.com/mailru/easyjson/jwriter"
	"github.com/royalcat/rgeomatch/geomodel"
)

func extraKeys(records []geomodel.SensorRecord[int64]) []string {
	keys := []string{}
	for _, r := range records {
		for k := range r.Extra {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return keys
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteCSV writes records in the layout the loader reads, with one column
// per Extra key.
func WriteCSV(w io.Writer, records []geomodel.SensorRecord[int64]) error {
	keys := extraKeys(records)
	cw := csv.NewWriter(w)

	if err := cw.Write(append([]string{"id", "latitude", "longitude"}, keys...)); err != nil {
		return err
	}
	row := make([]string, 3+len(keys))
	for _, r := range records {
		row[0] = strconv.FormatInt(r.ID, 10)
		row[1] = formatFloat(r.Location.Lat)
		row[2] = formatFloat(r.Location.Lon)
		for i, k := range keys {
			row[3+i] = r.Extra[k]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as an array of objects, one per line.
func WriteJSON(w io.Writer, records []geomodel.SensorRecord[int64]) error {
	jw := jwriter.Writer{}
	jw.RawByte('[')
	for i, r := range records {
		if i > 0 {
			jw.RawByte(',')
		}
		jw.RawString("\n  {\"id\":")
		jw.Int64(r.ID)
		jw.RawString(",\"latitude\":")
		jw.Float64(r.Location.Lat)
		jw.RawString(",\"longitude\":")
		jw.Float64(r.Location.Lon)

		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			jw.RawByte(',')
			jw.String(k)
			jw.RawByte(':')
			jw.String(r.Extra[k])
		}
		jw.RawByte('}')
	}
	jw.RawString("\n]\n")

	if jw.Error != nil {
		return jw.Error
	}
	_, err := jw.DumpTo(w)
	return err
}

// WriteTruth writes the expected mapping in the same shape as the mapping
// document: reference id to observation id, ascending by reference.
func WriteTruth(w io.Writer, truth map[int64]int64) error {
	refs := make([]int64, 0, len(truth))
	byRef := make(map[int64]int64, len(truth))
	for obs, ref := range truth {
		refs = append(refs, ref)
		byRef[ref] = obs
	}
	slices.Sort(refs)

	jw := jwriter.Writer{}
	jw.RawByte('{')
	for i, ref := range refs {
		if i > 0 {
			jw.RawByte(',')
		}
		jw.RawString("\n    ")
		jw.String(strconv.FormatInt(ref, 10))
		jw.RawString(": ")
		jw.String(strconv.FormatInt(byRef[ref], 10))
	}
	if len(refs) > 0 {
		jw.RawByte('\n')
	}
	jw.RawString("}\n")

	if jw.Error != nil {
		return jw.Error
	}
	_, err := jw.DumpTo(w)
	return err
}
