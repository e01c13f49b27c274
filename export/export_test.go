package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/royalcat/rgeomatch/export"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/royalcat/rgeomatch/reconcile"
)

func reconciled(t *testing.T) *reconcile.Result[int64, int64] {
	t.Helper()
	refs := []geomodel.SensorRecord[int64]{
		{ID: 20, Location: geomodel.GeoPoint{Lat: 0, Lon: 0}},
		{ID: 3, Location: geomodel.GeoPoint{Lat: 1, Lon: 1}},
		{ID: 100, Location: geomodel.GeoPoint{Lat: 2, Lon: 2}},
	}
	obs := []geomodel.SensorRecord[int64]{
		{ID: 7, Location: geomodel.GeoPoint{Lat: 0.0001, Lon: 0}},
		{ID: 8, Location: geomodel.GeoPoint{Lat: 1.0001, Lon: 1}},
		{ID: 9, Location: geomodel.GeoPoint{Lat: 0.0002, Lon: 0}},
		{ID: 10, Location: geomodel.GeoPoint{Lat: 50, Lon: 50}},
	}
	res, err := reconcile.Reconcile(context.Background(), refs, obs, reconcile.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestWriteMapping(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteMapping(&buf, reconciled(t).Mapping); err != nil {
		t.Fatal(err)
	}

	want := "{\n    \"3\": \"8\",\n    \"20\": \"7\"\n}\n"
	if buf.String() != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, buf.String())
	}
}

func TestWriteMappingEmpty(t *testing.T) {
	res, err := reconcile.Reconcile[int64, string](context.Background(), nil, nil, reconcile.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := export.WriteMapping(&buf, res.Mapping); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{}\n" {
		t.Fatalf("expected an empty object; got %q", buf.String())
	}
}

func TestWriteReport(t *testing.T) {
	res := reconciled(t)
	load := loader.Report{Source: "obs.json", Format: loader.FormatJSON, Loaded: 4, Skipped: []loader.SkippedRecord{{Position: 5, Reason: "invalid id \"x\""}}}

	var buf bytes.Buffer
	if err := export.WriteReport(&buf, res, load); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		RunID   string          `json:"run_id"`
		Policy  string          `json:"policy"`
		Radius  float64         `json:"radius"`
		Stats   reconcile.Stats `json:"stats"`
		Mapping []struct {
			Reference   int64   `json:"reference"`
			Observation int64   `json:"observation"`
			Distance    float64 `json:"distance"`
		} `json:"mapping"`
		Unmatched []int64 `json:"unmatched"`
		Displaced []struct {
			Observation int64 `json:"observation"`
			Reference   int64 `json:"reference"`
		} `json:"displaced"`
		Unclaimed []int64         `json:"unclaimed"`
		Sources   []loader.Report `json:"sources"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("report is not valid JSON: %s\n%s", err, buf.String())
	}

	if doc.RunID != res.RunID || doc.Policy != "closest" || doc.Radius != 100 {
		t.Fatalf("unexpected header %+v", doc)
	}
	if len(doc.Mapping) != 2 || doc.Mapping[0].Reference != 3 || doc.Mapping[1].Observation != 7 {
		t.Fatalf("unexpected mapping %+v", doc.Mapping)
	}
	if len(doc.Unmatched) != 1 || doc.Unmatched[0] != 10 {
		t.Fatalf("unexpected unmatched %v", doc.Unmatched)
	}
	if len(doc.Displaced) != 1 || doc.Displaced[0].Observation != 9 || doc.Displaced[0].Reference != 20 {
		t.Fatalf("unexpected displaced %+v", doc.Displaced)
	}
	if len(doc.Unclaimed) != 1 || doc.Unclaimed[0] != 100 {
		t.Fatalf("unexpected unclaimed %v", doc.Unclaimed)
	}
	if doc.Stats.Matched != 2 || doc.Stats.Collisions != 1 {
		t.Fatalf("unexpected stats %+v", doc.Stats)
	}
	if len(doc.Sources) != 1 || doc.Sources[0].Skipped[0].Reason != `invalid id "x"` {
		t.Fatalf("unexpected sources %+v", doc.Sources)
	}
}
