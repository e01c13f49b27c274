package loader_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/royalcat/rgeomatch/cachesaver"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/loader"
)

const sensorsCSV = `id,latitude,longitude,kind
1,40.7128,-74.0060,pm25
2,34.0522,-118.2437,no2
x,1,1,bad
3,95,0,bad
4,1,1
1,2,2,dup
5, 10.5 , 20.25 ,
`

func TestLoadCSV(t *testing.T) {
	records, report, err := loader.LoadCSV(strings.NewReader(sensorsCSV), "sensors.csv")
	if err != nil {
		t.Fatal(err)
	}

	ids := []int64{}
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 5 {
		t.Fatalf("expected ids [1 2 5]; got %v", ids)
	}
	if records[0].Extra["kind"] != "pm25" {
		t.Fatalf("expected extra column to be kept; got %v", records[0].Extra)
	}
	if records[2].Location != (geomodel.GeoPoint{Lat: 10.5, Lon: 20.25}) {
		t.Fatalf("unexpected location %v", records[2].Location)
	}

	if report.Loaded != 3 || len(report.Skipped) != 4 {
		t.Fatalf("expected 3 loaded and 4 skipped; got %+v", report)
	}
	lines := []int{}
	for _, s := range report.Skipped {
		lines = append(lines, s.Position)
	}
	want := []int{4, 5, 6, 7}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("expected skipped lines %v; got %v", want, lines)
		}
	}
	if !strings.Contains(report.Skipped[3].Reason, "duplicate id 1") {
		t.Fatalf("unexpected reason %q", report.Skipped[3].Reason)
	}
}

func TestLoadCSVHeaderAliases(t *testing.T) {
	records, _, err := loader.LoadCSV(strings.NewReader("ID,Lat,Lng\n7,1.5,2.5\n"), "a.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != 7 || records[0].Location.Lon != 2.5 || records[0].Extra != nil {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestLoadCSVMissingColumn(t *testing.T) {
	_, _, err := loader.LoadCSV(strings.NewReader("id,latitude\n1,2\n"), "a.csv")
	if !errors.Is(err, loader.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn; got %v", err)
	}
	_, _, err = loader.LoadCSV(strings.NewReader(""), "a.csv")
	if !errors.Is(err, loader.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn for empty input; got %v", err)
	}
}

const sensorsJSON = `[
	{"id": 10, "latitude": 40.7128, "longitude": -74.0060, "owner": "city", "active": true, "tags": ["a"]},
	{"id": "11", "latitude": "34.0522", "longitude": -118.2437},
	{"id": 12.0, "latitude": 1, "longitude": 1},
	{"id": 13.5, "latitude": 1, "longitude": 1},
	{"id": 14, "latitude": 1},
	{"id": 15, "latitude": true, "longitude": 1},
	{"id": 16, "latitude": 1, "longitude": 181},
	42,
	{"id": 10, "latitude": 0, "longitude": 0}
]`

func TestLoadJSON(t *testing.T) {
	records, report, err := loader.LoadJSON(strings.NewReader(sensorsJSON), "sensors.json")
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 || records[0].ID != 10 || records[1].ID != 11 || records[2].ID != 12 {
		t.Fatalf("expected ids [10 11 12]; got %+v", records)
	}
	if records[1].Location.Lat != 34.0522 {
		t.Fatalf("numeric strings must be accepted; got %v", records[1].Location)
	}
	extra := records[0].Extra
	if len(extra) != 2 || extra["owner"] != "city" || extra["active"] != "true" {
		t.Fatalf("expected scalar extras only; got %v", extra)
	}

	if report.Loaded != 3 || len(report.Skipped) != 6 {
		t.Fatalf("expected 3 loaded and 6 skipped; got %+v", report)
	}
	want := []int{3, 4, 5, 6, 7, 8}
	for i, s := range report.Skipped {
		if s.Position != want[i] {
			t.Fatalf("expected skipped positions %v; got %+v", want, report.Skipped)
		}
	}
}

func TestLoadJSONErrors(t *testing.T) {
	if _, _, err := loader.LoadJSON(strings.NewReader(`{"id": 1}`), "a.json"); !errors.Is(err, loader.ErrNotArray) {
		t.Fatalf("expected ErrNotArray; got %v", err)
	}
	if _, _, err := loader.LoadJSON(strings.NewReader(`[{"id": 1,`), "a.json"); err == nil {
		t.Fatalf("expected an error for a truncated document")
	}
	records, _, err := loader.LoadJSON(strings.NewReader(` [] `), "a.json")
	if err != nil || len(records) != 0 {
		t.Fatalf("expected an empty catalog; got %v %v", records, err)
	}
}

func TestFormat(t *testing.T) {
	tests := map[string]string{
		"a.csv":           loader.FormatCSV,
		"dir/A.JSON":      loader.FormatJSON,
		"a.json.zst":      loader.FormatJSON,
		"catalog.rgm":     loader.FormatSnapshot,
		"catalog.rgm.zst": loader.FormatSnapshot,
	}
	for name, want := range tests {
		got, err := loader.Format(name)
		if err != nil || got != want {
			t.Errorf("%s: expected %s; got %s %v", name, want, got, err)
		}
	}
	if _, err := loader.Format("a.txt"); !errors.Is(err, loader.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat; got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.DiscardHandler)

	plain := filepath.Join(dir, "sensors.csv")
	if err := os.WriteFile(plain, []byte(sensorsCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte(sensorsJSON)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	packed := filepath.Join(dir, "sensors.json.zst")
	if err := os.WriteFile(packed, compressed.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	csvRecords, report, err := loader.LoadFile(plain, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(csvRecords) != 3 || report.Source != "sensors.csv" || report.Format != loader.FormatCSV {
		t.Fatalf("unexpected csv load %+v", report)
	}

	jsonRecords, report, err := loader.LoadFile(packed, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(jsonRecords) != 3 || report.Format != loader.FormatJSON {
		t.Fatalf("unexpected json load %+v", report)
	}

	snapshot := filepath.Join(dir, "sensors.rgm")
	f, err := os.Create(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if err := cachesaver.Save(f, csvRecords, cachesaver.Metadata{Source: "sensors.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	snapRecords, report, err := loader.LoadFile(snapshot, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapRecords) != len(csvRecords) || report.Format != loader.FormatSnapshot {
		t.Fatalf("unexpected snapshot load %+v", report)
	}
	for i := range csvRecords {
		if snapRecords[i].ID != csvRecords[i].ID || snapRecords[i].Location != csvRecords[i].Location {
			t.Fatalf("record %d differs after snapshot: %+v vs %+v", i, snapRecords[i], csvRecords[i])
		}
	}

	if _, _, err := loader.LoadFile(filepath.Join(dir, "missing.csv"), log); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
