// Package loader reads sensor catalogs from CSV, JSON and snapshot files.
// Malformed entries are skipped and recorded in a Report instead of failing
// the whole load.
package loader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/royalcat/rgeomatch/cachesaver"
	"github.com/royalcat/rgeomatch/geomodel"
	"golang.org/x/exp/mmap"
)

var ErrUnknownFormat = errors.New("unknown catalog format")

const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatSnapshot = "rgm"
)

// SkippedRecord is an input entry left out of the catalog. Position is the
// line number for CSV and the array index for JSON.
type SkippedRecord struct {
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

type Report struct {
	Source  string          `json:"source"`
	Format  string          `json:"format"`
	Loaded  int             `json:"loaded"`
	Skipped []SkippedRecord `json:"skipped"`
}

func (r *Report) skip(pos int, format string, args ...any) {
	r.Skipped = append(r.Skipped, SkippedRecord{Position: pos, Reason: fmt.Sprintf(format, args...)})
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", r.Source),
		slog.String("format", r.Format),
		slog.Int("loaded", r.Loaded),
		slog.Int("skipped", len(r.Skipped)),
	)
}

// Format returns the catalog format of a file name, ignoring a .zst suffix.
func Format(name string) (string, error) {
	name = strings.TrimSuffix(strings.ToLower(name), ".zst")
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".rgm":
		return FormatSnapshot, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(name))
}

// LoadFile loads a catalog choosing the format by extension. Files ending in
// .zst are decompressed on the fly.
func LoadFile(path string, log *slog.Logger) ([]geomodel.SensorRecord[int64], Report, error) {
	format, err := Format(path)
	if err != nil {
		return nil, Report{}, err
	}
	log = log.With("component", "loader")

	reader, err := openReader(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("error opening catalog file: %w", err)
	}
	defer reader.Close()

	source := filepath.Base(path)
	var records []geomodel.SensorRecord[int64]
	var report Report
	switch format {
	case FormatCSV:
		records, report, err = LoadCSV(reader, source)
	case FormatJSON:
		records, report, err = LoadJSON(reader, source)
	case FormatSnapshot:
		records, report, err = loadSnapshot(reader, source, log)
	}
	if err != nil {
		return nil, report, fmt.Errorf("error loading %s: %w", source, err)
	}

	for _, s := range report.Skipped {
		log.Warn("Skipped catalog entry", "source", source, "position", s.Position, "reason", s.Reason)
	}
	log.Info("Catalog loaded", "report", report)

	return records, report, nil
}

func loadSnapshot(r io.Reader, source string, log *slog.Logger) ([]geomodel.SensorRecord[int64], Report, error) {
	records, _, err := cachesaver.LoadFromReader(r, log)
	if err != nil {
		return nil, Report{}, err
	}
	return records, Report{Source: source, Format: FormatSnapshot, Loaded: len(records), Skipped: []SkippedRecord{}}, nil
}

type mmapReader struct {
	*io.SectionReader
	m *mmap.ReaderAt
}

func (r mmapReader) Close() error {
	return r.m.Close()
}

func openReader(name string) (io.ReadCloser, error) {
	if strings.HasSuffix(name, ".zst") {
		file, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("can`t open file error: %w", err)
		}
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("can`t create zstd reader: %w", err)
		}
		return zstdReader{dec: dec, file: file}, nil
	}

	m, err := mmap.Open(name)
	if err != nil {
		return nil, fmt.Errorf("can`t map file error: %w", err)
	}
	return mmapReader{SectionReader: io.NewSectionReader(m, 0, int64(m.Len())), m: m}, nil
}

type zstdReader struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r zstdReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r zstdReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
