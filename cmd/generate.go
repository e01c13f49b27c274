package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/internal/synth"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/urfave/cli/v3"
)

func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bound must have 4 values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bound value %q", p)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func generateAction(ctx *cli.Context) error {
	bound, err := parseBound(ctx.String("bound"))
	if err != nil {
		return err
	}

	cfg := synth.DefaultConfig()
	cfg.Bound = bound
	cfg.Spacing = ctx.Float64("spacing")
	cfg.Jitter = ctx.Float64("jitter")
	cfg.Coverage = ctx.Float64("coverage")
	cfg.Noise = ctx.Int("noise")
	cfg.Seed = ctx.Int64("seed")

	return runGenerate(cfg, ctx.String("references"), ctx.String("observations"), ctx.String("truth"))
}

func runGenerate(cfg synth.Config, refPath, obsPath, truthPath string) error {
	ds, err := synth.Generate(cfg)
	if err != nil {
		return err
	}

	if err := writeCatalog(refPath, ds.References); err != nil {
		return err
	}
	if err := writeCatalog(obsPath, ds.Observations); err != nil {
		return err
	}
	fmt.Printf("Generated %s references and %s observations (seed %d)\n",
		humanize.Comma(int64(len(ds.References))), humanize.Comma(int64(len(ds.Observations))), cfg.Seed)

	if truthPath != "" {
		w, err := createWriter(truthPath)
		if err != nil {
			return err
		}
		err = synth.WriteTruth(w, ds.Truth)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write truth: %w", err)
		}
	}
	return nil
}

func writeCatalog(name string, records []geomodel.SensorRecord[int64]) error {
	format, err := loader.Format(name)
	if err != nil {
		return err
	}

	var write func(io.Writer, []geomodel.SensorRecord[int64]) error
	switch format {
	case loader.FormatCSV:
		write = synth.WriteCSV
	case loader.FormatJSON:
		write = synth.WriteJSON
	default:
		return fmt.Errorf("generate writes csv or json catalogs, use pack for %s", name)
	}

	w, err := createWriter(name)
	if err != nil {
		return err
	}
	if err := write(w, records); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return w.Close()
}
