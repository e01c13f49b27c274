package main

import (
	"log/slog"

	"github.com/royalcat/rgeomatch/loader"
	"github.com/royalcat/rgeomatch/reconcile"
	"github.com/royalcat/rgeomatch/server"
	"github.com/urfave/cli/v3"
)

func serveAction(ctx *cli.Context) error {
	log := slog.Default()

	opts, err := reconcileOptions(ctx, log)
	if err != nil {
		return err
	}

	log.Info("Loading reference catalog")
	refs, _, err := loader.LoadFile(ctx.String("references"), log)
	if err != nil {
		return err
	}

	rec, err := reconcile.New[int64, int64](ctx.Context, refs, opts...)
	if err != nil {
		return err
	}

	s, err := server.New(rec, log)
	if err != nil {
		return err
	}
	return server.Run(ctx.Context, ctx.String("listen"), s)
}
