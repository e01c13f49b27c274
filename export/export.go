// Package export writes reconciliation results as JSON documents.
package export

import (
	"cmp"
	"fmt"
	"io"
	"strconv"

	"github.com/mailru/easyjson/jwriter"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/royalcat/rgeomatch/reconcile"
)

const indent = "    "

// WriteMapping writes the mapping as an object from reference id to
// observation id, both as strings, in ascending reference order.
func WriteMapping[R, O cmp.Ordered](out io.Writer, m *reconcile.Mapping[R, O]) error {
	w := jwriter.Writer{}
	if m.Len() == 0 {
		w.RawString("{}\n")
		_, err := w.DumpTo(out)
		return err
	}

	w.RawByte('{')
	first := true
	m.Ascend(func(match reconcile.Match[R, O]) bool {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.RawString("\n" + indent)
		w.String(idString(match.Reference))
		w.RawString(": ")
		w.String(idString(match.Observation))
		return true
	})
	w.RawString("\n}\n")

	if w.Error != nil {
		return w.Error
	}
	_, err := w.DumpTo(out)
	return err
}

// WriteReport writes the full result of a run with the load reports of the
// catalogs involved.
func WriteReport[R, O cmp.Ordered](out io.Writer, res *reconcile.Result[R, O], loads ...loader.Report) error {
	w := jwriter.Writer{}

	w.RawString(`{"run_id":`)
	w.String(res.RunID)
	w.RawString(`,"policy":`)
	w.String(res.Policy.String())
	w.RawString(`,"radius":`)
	w.Float64(res.Radius)

	w.RawString(`,"stats":`)
	writeStats(&w, res.Stats)

	w.RawString(`,"mapping":[`)
	first := true
	res.Mapping.Ascend(func(m reconcile.Match[R, O]) bool {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.RawString(`{"reference":`)
		writeID(&w, m.Reference)
		w.RawString(`,"observation":`)
		writeID(&w, m.Observation)
		w.RawString(`,"distance":`)
		w.Float64(m.Distance)
		w.RawByte('}')
		return true
	})
	w.RawByte(']')

	w.RawString(`,"unmatched":`)
	writeIDs(&w, res.Unmatched)

	w.RawString(`,"displaced":[`)
	for i, d := range res.Displaced {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"observation":`)
		writeID(&w, d.Observation)
		w.RawString(`,"reference":`)
		writeID(&w, d.Reference)
		w.RawString(`,"distance":`)
		w.Float64(d.Distance)
		w.RawByte('}')
	}
	w.RawByte(']')

	w.RawString(`,"unclaimed":`)
	writeIDs(&w, res.Unclaimed)

	w.RawString(`,"sources":[`)
	for i, l := range loads {
		if i > 0 {
			w.RawByte(',')
		}
		writeLoadReport(&w, l)
	}
	w.RawString("]}\n")

	if w.Error != nil {
		return w.Error
	}
	_, err := w.DumpTo(out)
	return err
}

func writeStats(w *jwriter.Writer, s reconcile.Stats) {
	w.RawString(`{"references":`)
	w.Int(s.References)
	w.RawString(`,"observations":`)
	w.Int(s.Observations)
	w.RawString(`,"matched":`)
	w.Int(s.Matched)
	w.RawString(`,"unmatched":`)
	w.Int(s.Unmatched)
	w.RawString(`,"displaced":`)
	w.Int(s.Displaced)
	w.RawString(`,"unclaimed":`)
	w.Int(s.Unclaimed)
	w.RawString(`,"collisions":`)
	w.Int(s.Collisions)
	w.RawString(`,"contested":`)
	w.Int(s.Contested)
	w.RawString(`,"max_distance":`)
	w.Float64(s.MaxDistance)
	w.RawString(`,"mean_distance":`)
	w.Float64(s.MeanDistance)
	w.RawString(`,"index_build_ns":`)
	w.Int64(s.IndexBuild.Nanoseconds())
	w.RawString(`,"query_ns":`)
	w.Int64(s.Query.Nanoseconds())
	w.RawByte('}')
}

func writeLoadReport(w *jwriter.Writer, r loader.Report) {
	w.RawString(`{"source":`)
	w.String(r.Source)
	w.RawString(`,"format":`)
	w.String(r.Format)
	w.RawString(`,"loaded":`)
	w.Int(r.Loaded)
	w.RawString(`,"skipped":[`)
	for i, s := range r.Skipped {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"position":`)
		w.Int(s.Position)
		w.RawString(`,"reason":`)
		w.String(s.Reason)
		w.RawByte('}')
	}
	w.RawString("]}")
}

func writeIDs[T cmp.Ordered](w *jwriter.Writer, ids []T) {
	w.RawByte('[')
	for i, id := range ids {
		if i > 0 {
			w.RawByte(',')
		}
		writeID(w, id)
	}
	w.RawByte(']')
}

// writeID keeps integer ids as JSON numbers and writes everything else as a
// string.
func writeID(w *jwriter.Writer, id any) {
	switch v := id.(type) {
	case int:
		w.Int(v)
	case int32:
		w.Int32(v)
	case int64:
		w.Int64(v)
	case uint32:
		w.Uint32(v)
	case uint64:
		w.Uint64(v)
	case string:
		w.String(v)
	default:
		w.String(idString(v))
	}
}

func idString(id any) string {
	switch v := id.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	}
	return fmt.Sprint(id)
}
