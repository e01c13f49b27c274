// Package server exposes a reference catalog over HTTP: nearest and radius
// lookups plus ad hoc reconciliation of posted observation catalogs.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/router"
	"github.com/mailru/easyjson/jwriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/royalcat/rgeomatch/export"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/loader"
	"github.com/royalcat/rgeomatch/reconcile"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const MaxBodySize = 32 * 1000 * 1000 // 32MB

const defaultK = 1

var meter = otel.Meter("github.com/royalcat/rgeomatch/server")

type Reconciler = reconcile.Reconciler[int64, int64]

type Server struct {
	rec *Reconciler
	log *slog.Logger

	metricNearestCallCount   metric.Int64Counter
	metricRadiusCallCount    metric.Int64Counter
	metricBatchCallCount     metric.Int64Counter
	metricReconcileCallCount metric.Int64Counter
	metricPointsQueried      metric.Int64Counter
}

func New(rec *Reconciler, log *slog.Logger) (*Server, error) {
	s := &Server{
		rec: rec,
		log: log.With("component", "server"),
	}

	var err error
	counters := []struct {
		c    *metric.Int64Counter
		name string
	}{
		{&s.metricNearestCallCount, "http_nearest_call_total"},
		{&s.metricRadiusCallCount, "http_radius_call_total"},
		{&s.metricBatchCallCount, "http_nearest_batch_call_total"},
		{&s.metricReconcileCallCount, "http_reconcile_call_total"},
		{&s.metricPointsQueried, "points_queried_total"},
	}
	for _, c := range counters {
		*c.c, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/nearest/{lat}/{lon}", s.NearestHandler)
	r.POST("/nearest", s.BatchNearestHandler)
	r.GET("/radius/{lat}/{lon}/{meters}", s.RadiusHandler)
	r.POST("/reconcile", s.ReconcileHandler)
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	return r.Handler
}

// Run serves until ctx is canceled.
func Run(ctx context.Context, address string, s *Server) error {
	server := &fasthttp.Server{
		ReadTimeout:        time.Second,
		MaxRequestBodySize: MaxBodySize,
		Handler:            s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", "address", address, "references", len(s.rec.References()))
		errCh <- server.ListenAndServe(address)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ListenAndServe(): %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}

func badRequest(ctx *fasthttp.RequestCtx, msg string) {
	ctx.Response.SetStatusCode(http.StatusBadRequest)
	ctx.Response.SetBodyString(msg)
}

func pointFromPath(ctx *fasthttp.RequestCtx) (geomodel.GeoPoint, error) {
	latS, _ := ctx.UserValue("lat").(string)
	lonS, _ := ctx.UserValue("lon").(string)

	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return geomodel.GeoPoint{}, fmt.Errorf("invalid latitude %q", latS)
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return geomodel.GeoPoint{}, fmt.Errorf("invalid longitude %q", lonS)
	}
	return geomodel.NewGeoPoint(lat, lon)
}

func writeJSON(ctx *fasthttp.RequestCtx, w *jwriter.Writer) {
	data, err := w.BuildBytes()
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetBody(data)
}

// NearestHandler answers GET /nearest/{lat}/{lon}?k=N with the N closest
// references, nearest first.
func (s *Server) NearestHandler(ctx *fasthttp.RequestCtx) {
	s.metricNearestCallCount.Add(ctx, 1)
	s.metricPointsQueried.Add(ctx, 1)

	q, err := pointFromPath(ctx)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}

	k := defaultK
	if raw := ctx.QueryArgs().Peek("k"); len(raw) > 0 {
		k, err = strconv.Atoi(string(raw))
		if err != nil {
			badRequest(ctx, "invalid k")
			return
		}
	}

	hits, err := s.rec.Nearest(q, k)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}
	if len(hits) == 0 {
		ctx.Response.SetStatusCode(http.StatusNoContent)
		return
	}

	w := jwriter.Writer{}
	writeHits(&w, hits)
	writeJSON(ctx, &w)
}

// RadiusHandler answers GET /radius/{lat}/{lon}/{meters} with every
// reference within the radius, nearest first.
func (s *Server) RadiusHandler(ctx *fasthttp.RequestCtx) {
	s.metricRadiusCallCount.Add(ctx, 1)
	s.metricPointsQueried.Add(ctx, 1)

	q, err := pointFromPath(ctx)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}
	metersS, _ := ctx.UserValue("meters").(string)
	meters, err := strconv.ParseFloat(metersS, 64)
	if err != nil {
		badRequest(ctx, "invalid radius")
		return
	}

	hits, err := s.rec.Within(q, meters)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}

	w := jwriter.Writer{}
	writeHits(&w, hits)
	writeJSON(ctx, &w)
}

var reqPointsPool = sync.Pool{
	New: func() any {
		return &[][2]float64{}
	},
}

// BatchNearestHandler answers POST /nearest with a body of [lat, lon] pairs.
// The response holds the nearest reference per pair, null for an empty
// catalog.
func (s *Server) BatchNearestHandler(ctx *fasthttp.RequestCtx) {
	s.metricBatchCallCount.Add(ctx, 1)

	req := reqPointsPool.Get().(*[][2]float64) // lat, lon
	*req = (*req)[:0]
	defer reqPointsPool.Put(req)

	if err := unmarshalPoints(ctx.Request.Body(), req); err != nil {
		badRequest(ctx, "failed to parse request: "+err.Error())
		return
	}

	s.metricPointsQueried.Add(ctx, int64(len(*req)))

	w := jwriter.Writer{}
	w.RawByte('[')
	for i, p := range *req {
		if i > 0 {
			w.RawByte(',')
		}
		hits, err := s.rec.Nearest(geomodel.GeoPoint{Lat: p[0], Lon: p[1]}, 1)
		if err != nil {
			badRequest(ctx, fmt.Sprintf("point %d: %s", i, err))
			return
		}
		if len(hits) == 0 {
			w.RawString("null")
			continue
		}
		writeHit(&w, hits[0])
	}
	w.RawByte(']')
	writeJSON(ctx, &w)
}

// ReconcileHandler answers POST /reconcile with a JSON observation catalog
// and returns the full report document.
func (s *Server) ReconcileHandler(ctx *fasthttp.RequestCtx) {
	s.metricReconcileCallCount.Add(ctx, 1)

	obs, report, err := loader.LoadJSON(bytes.NewReader(ctx.Request.Body()), "request")
	if err != nil {
		badRequest(ctx, "failed to parse request: "+err.Error())
		return
	}
	s.metricPointsQueried.Add(ctx, int64(len(obs)))

	res, err := s.rec.Reconcile(ctx, obs)
	if err != nil {
		if errors.Is(err, geomodel.ErrInvalidCoordinate) || errors.Is(err, geomodel.ErrDuplicateID) {
			badRequest(ctx, err.Error())
			return
		}
		s.log.Error("Reconciliation failed", "error", err)
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReport(&buf, res, report); err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.SetBody(buf.Bytes())
}

func writeHits(w *jwriter.Writer, hits []reconcile.Hit[int64]) {
	w.RawByte('[')
	for i, h := range hits {
		if i > 0 {
			w.RawByte(',')
		}
		writeHit(w, h)
	}
	w.RawByte(']')
}

func writeHit(w *jwriter.Writer, h reconcile.Hit[int64]) {
	w.RawString(`{"id":`)
	w.Int64(h.Record.ID)
	w.RawString(`,"latitude":`)
	w.Float64(h.Record.Location.Lat)
	w.RawString(`,"longitude":`)
	w.Float64(h.Record.Location.Lon)
	w.RawString(`,"distance":`)
	w.Float64(h.Distance)
	if len(h.Record.Extra) > 0 {
		w.RawString(`,"extra":{`)
		first := true
		for k, v := range h.Record.Extra {
			if !first {
				w.RawByte(',')
			}
			first = false
			w.String(k)
			w.RawByte(':')
			w.String(v)
		}
		w.RawByte('}')
	}
	w.RawByte('}')
}
