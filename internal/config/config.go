// Package config resolves command defaults from the environment. Values from
// a .env file in the working directory are loaded first and never override
// variables already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/royalcat/rgeomatch/balltree"
	"github.com/royalcat/rgeomatch/geomodel"
	"github.com/royalcat/rgeomatch/reconcile"
)

const envPrefix = "RGEOMATCH_"

type Config struct {
	Radius       float64
	EarthRadius  float64
	Policy       reconcile.Policy
	Workers      int
	NodeSize     int
	Listen       string
	OtelEndpoint string
}

func Default() Config {
	return Config{
		Radius:      reconcile.DefaultRadius,
		EarthRadius: geomodel.EarthRadius,
		Policy:      reconcile.ClosestWins,
		Workers:     0,
		NodeSize:    balltree.DefaultNodeSize,
		Listen:      ":8080",
	}
}

// FromEnv returns Default overridden by RGEOMATCH_* variables. files are
// dotenv files to load, ".env" when none are given. Missing files are ignored.
func FromEnv(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("error loading %s: %w", f, err)
		}
	}

	cfg := Default()
	var err error
	if cfg.Radius, err = lookupFloat("RADIUS", cfg.Radius); err != nil {
		return cfg, err
	}
	if cfg.EarthRadius, err = lookupFloat("EARTH_RADIUS", cfg.EarthRadius); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = lookupInt("WORKERS", cfg.Workers); err != nil {
		return cfg, err
	}
	if cfg.NodeSize, err = lookupInt("NODE_SIZE", cfg.NodeSize); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv(envPrefix + "POLICY"); ok {
		if cfg.Policy, err = reconcile.ParsePolicy(v); err != nil {
			return cfg, fmt.Errorf("%sPOLICY: %w", envPrefix, err)
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := os.LookupEnv(envPrefix + "OTEL_ENDPOINT"); ok {
		cfg.OtelEndpoint = v
	}

	return cfg, nil
}

func lookupFloat(name string, def float64) (float64, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return f, nil
}

func lookupInt(name string, def int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return i, nil
}
