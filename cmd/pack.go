package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/royalcat/rgeomatch/cachesaver"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/urfave/cli/v3"
)

const snapshotVersion = 1

func packAction(ctx *cli.Context) error {
	return runPack(ctx.String("input"), ctx.String("output"), slog.Default())
}

func runPack(input, output string, log *slog.Logger) error {
	if !strings.HasSuffix(strings.TrimSuffix(output, ".zst"), ".rgm") {
		output = output + ".rgm"
	}

	records, report, err := loader.LoadFile(input, log)
	if err != nil {
		return err
	}

	w, err := createWriter(output)
	if err != nil {
		return err
	}
	err = cachesaver.Save(w, records, cachesaver.Metadata{
		Version:     snapshotVersion,
		Source:      filepath.Base(input),
		DateCreated: time.Now(),
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	fmt.Printf("Packed %s records (%d skipped) into %s\n", humanize.Comma(int64(report.Loaded)), len(report.Skipped), output)
	return nil
}
