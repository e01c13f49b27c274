package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/royalcat/rgeomatch/internal/config"
	"github.com/royalcat/rgeomatch/internal/telemetry"

	_ "net/http/pprof"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

const appName = "rgeomatch"

var telemetryClient *telemetry.Client

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(cfg).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func matchFlags(cfg config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:  "radius",
			Usage: "acceptance radius in meters",
			Value: cfg.Radius,
		},
		&cli.Float64Flag{
			Name:  "earth-radius",
			Usage: "sphere radius in meters used for distances",
			Value: cfg.EarthRadius,
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "collision policy: closest, first, last or reject",
			Value: cfg.Policy.String(),
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"t"},
			Usage:   "parallel query workers, 0 uses every CPU",
			Value:   cfg.Workers,
		},
		&cli.IntFlag{
			Name:  "node-size",
			Value: cfg.NodeSize,
		},
	}
}

func pprofFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pprof.listen",
			DefaultText: "",
		},
		&cli.BoolFlag{
			Name:        "pprof.profile",
			DefaultText: "",
		},
	}
}

func newApp(cfg config.Config) *cli.App {
	return &cli.App{
		Name:        appName,
		Description: "Reconciles two geospatial sensor catalogs into a one-to-one id mapping",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
			},
			&cli.StringFlag{
				Name:  "otel-endpoint",
				Usage: "OTLP/HTTP collector endpoint, OTEL_* variables are used when empty",
				Value: cfg.OtelEndpoint,
			},
		},
		Before: setup,
		After:  shutdown,
		Commands: []*cli.Command{
			{
				Name:    "reconcile",
				Aliases: []string{"r"},
				Usage:   "map observation sensors onto reference sensors",
				Flags: append(append([]cli.Flag{
					&cli.StringFlag{
						Name:      "references",
						Aliases:   []string{"ref"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "observations",
						Aliases:   []string{"obs"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Value:     "sensor_mapping.json",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "report",
						Usage:     "write the full report document to this file",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "stats",
						Usage:     "write a runtime statistics report to this file",
						TakesFile: true,
					},
					&cli.BoolFlag{
						Name:  "print",
						Usage: "print the mapping to stdout",
					},
				}, matchFlags(cfg)...), pprofFlags()...),
				Action: reconcileAction,
			},
			{
				Name:  "serve",
				Usage: "serve nearest and reconcile queries over a reference catalog",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:      "references",
						Aliases:   []string{"ref"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:  "listen",
						Value: cfg.Listen,
					},
				}, matchFlags(cfg)...),
				Action: serveAction,
			},
			{
				Name:    "generate",
				Aliases: []string{"g"},
				Usage:   "generate synthetic reference and observation catalogs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "references",
						Aliases:   []string{"ref"},
						Value:     "references.csv",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "observations",
						Aliases:   []string{"obs"},
						Value:     "observations.json",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "truth",
						Usage:     "write the expected mapping to this file",
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:  "bound",
						Usage: "min lon, min lat, max lon, max lat",
						Value: "2.25,48.8,2.45,48.9",
					},
					&cli.Float64Flag{
						Name:  "spacing",
						Usage: "minimum distance between references in meters",
						Value: 300,
					},
					&cli.Float64Flag{
						Name:  "jitter",
						Usage: "maximum observation displacement in meters",
						Value: 60,
					},
					&cli.Float64Flag{
						Name:  "coverage",
						Value: 0.9,
					},
					&cli.IntFlag{
						Name:  "noise",
						Value: 50,
					},
					&cli.Int64Flag{
						Name:  "seed",
						Value: time.Now().UnixNano(),
					},
				},
				Action: generateAction,
			},
			{
				Name:  "pack",
				Usage: "convert a catalog into a binary snapshot for faster loading",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "input",
						Aliases:   []string{"i"},
						Required:  true,
						TakesFile: true,
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
					},
				},
				Action: packAction,
			},
		},
	}
}

func setup(ctx *cli.Context) error {
	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}

	client, err := telemetry.Setup(ctx.Context, telemetry.Config{
		AppName:  appName,
		Endpoint: ctx.String("otel-endpoint"),
		Level:    level,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	telemetryClient = client
	return nil
}

func shutdown(ctx *cli.Context) error {
	if telemetryClient == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	telemetryClient.Shutdown(shutdownCtx)
	return nil
}

// startPprof starts the optional pprof endpoint and cpu profile. The returned
// func stops profiling.
func startPprof(ctx *cli.Context) (func(), error) {
	log := slog.Default()

	if pprofListen := ctx.String("pprof.listen"); pprofListen != "" {
		go func() {
			log.Info("Starting pprof server", "address", pprofListen)
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				log.Error("Error starting pprof server", "error", err)
			}
		}()
	}

	if !ctx.Bool("pprof.profile") {
		return func() {}, nil
	}

	f, err := os.OpenFile("profile.cpu.pprof", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating pprof file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("error starting pprof: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
