package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/royalcat/rgeomatch/export"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/internal/stats"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/royalcat/rgeomatch/reconcile"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

type catalog struct {
	records []geomodel.SensorRecord[int64]
	report  loader.Report
}

// loadCatalogs loads both catalogs concurrently.
func loadCatalogs(ctx context.Context, refPath, obsPath string, log *slog.Logger) (refs, obs catalog, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		refs.records, refs.report, err = loader.LoadFile(refPath, log)
		return err
	})
	g.Go(func() error {
		var err error
		obs.records, obs.report, err = loader.LoadFile(obsPath, log)
		return err
	})
	err = g.Wait()
	return refs, obs, err
}

func reconcileOptions(ctx *cli.Context, log *slog.Logger) ([]reconcile.Option, error) {
	policy, err := reconcile.ParsePolicy(ctx.String("policy"))
	if err != nil {
		return nil, err
	}
	return []reconcile.Option{
		reconcile.WithRadius(ctx.Float64("radius")),
		reconcile.WithEarthRadius(ctx.Float64("earth-radius")),
		reconcile.WithPolicy(policy),
		reconcile.WithWorkers(ctx.Int("workers")),
		reconcile.WithNodeSize(ctx.Int("node-size")),
		reconcile.WithLogger(log),
	}, nil
}

type reconcileArgs struct {
	references   string
	observations string
	output       string
	report       string
	print        bool
	opts         []reconcile.Option
}

func reconcileAction(ctx *cli.Context) error {
	log := slog.Default()

	stopProfile, err := startPprof(ctx)
	if err != nil {
		return err
	}
	defer stopProfile()

	var collector *stats.Collector
	if ctx.String("stats") != "" {
		collector, err = stats.NewCollector(100 * time.Millisecond)
		if err != nil {
			return err
		}
		collector.Start()
		defer collector.Stop()
	}

	opts, err := reconcileOptions(ctx, log)
	if err != nil {
		return err
	}

	res, err := runReconcile(ctx.Context, reconcileArgs{
		references:   ctx.String("references"),
		observations: ctx.String("observations"),
		output:       ctx.String("output"),
		report:       ctx.String("report"),
		print:        ctx.Bool("print"),
		opts:         opts,
	}, log)
	if err != nil {
		return err
	}

	if collector != nil {
		runStats := collector.Stop()
		runStats.Reconciliation = &res.Stats
		if err := runStats.SaveToFile(ctx.String("stats")); err != nil {
			return err
		}
		fmt.Printf("Runtime stats saved to %s\n", ctx.String("stats"))
	}

	return nil
}

func runReconcile(ctx context.Context, args reconcileArgs, log *slog.Logger) (*reconcile.Result[int64, int64], error) {
	refs, obs, err := loadCatalogs(ctx, args.references, args.observations, log)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Reference sensors loaded: %s (%d skipped)\n", humanize.Comma(int64(len(refs.records))), len(refs.report.Skipped))
	fmt.Printf("Observation sensors loaded: %s (%d skipped)\n", humanize.Comma(int64(len(obs.records))), len(obs.report.Skipped))

	bar := pb.New(len(obs.records))
	bar.SetWriter(os.Stderr)
	bar.Start()
	opts := append(args.opts, reconcile.WithProgress(func(done, total int) {
		bar.Increment()
	}))

	r, err := reconcile.New[int64, int64](ctx, refs.records, opts...)
	if err != nil {
		bar.Finish()
		return nil, err
	}
	res, err := r.Reconcile(ctx, obs.records)
	bar.Finish()
	if err != nil {
		return nil, err
	}

	if err := writeFile(args.output, func(f *os.File) error {
		return export.WriteMapping(f, res.Mapping)
	}); err != nil {
		return nil, fmt.Errorf("failed to write mapping: %w", err)
	}
	fmt.Printf("Mapping of %s sensors saved to %s\n", humanize.Comma(int64(res.Mapping.Len())), args.output)

	if args.report != "" {
		if err := writeFile(args.report, func(f *os.File) error {
			return export.WriteReport(f, res, refs.report, obs.report)
		}); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to %s\n", args.report)
	}

	if args.print {
		if err := export.WriteMapping(os.Stdout, res.Mapping); err != nil {
			return nil, err
		}
	}

	s := res.Stats
	fmt.Printf("Matched %s of %s observations, %s unmatched, %s displaced by %s collisions\n",
		humanize.Comma(int64(s.Matched)), humanize.Comma(int64(s.Observations)),
		humanize.Comma(int64(s.Unmatched)), humanize.Comma(int64(s.Displaced)), humanize.Comma(int64(s.Collisions)))

	return res, nil
}

func writeFile(name string, write func(f *os.File) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
