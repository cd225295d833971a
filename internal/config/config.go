// Package config loads anchorsync settings from YAML or CUE files.
//
// Every file is unified with the embedded #Config schema, which supplies the
// defaults and rejects out-of-range values before anything is decoded.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/anchorsync/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	Tick              time.Duration
	PollInterval      time.Duration
	PositionThreshold float64 // metres
	RotationThreshold float64 // degrees

	FetchRetries     int
	FetchDelay       time.Duration
	FetchConcurrency int
	CacheDir         string

	DB        string
	User      string
	Namespace string
	Space     uint64

	Templates []string
	LogLevel  string
}

// file mirrors #Config field for field.
type file struct {
	Tick              string   `json:"tick"`
	PollInterval      string   `json:"poll_interval"`
	PositionThreshold float64  `json:"position_threshold"`
	RotationThreshold float64  `json:"rotation_threshold"`
	FetchRetries      int      `json:"fetch_retries"`
	FetchDelay        string   `json:"fetch_delay"`
	FetchConcurrency  int      `json:"fetch_concurrency"`
	CacheDir          string   `json:"cache_dir"`
	DB                string   `json:"db"`
	User              string   `json:"user"`
	Namespace         string   `json:"namespace"`
	Space             uint64   `json:"space"`
	Templates         []string `json:"templates"`
	LogLevel          string   `json:"log_level"`
}

// Thresholds returns the engine motion thresholds.
func (c Config) Thresholds() engine.Thresholds {
	return engine.Thresholds{
		Position:     c.PositionThreshold,
		Rotation:     c.RotationThreshold,
		PollInterval: c.PollInterval,
	}
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Default returns the schema defaults.
func Default() Config {
	c, err := build(cuecontext.New(), nil)
	if err != nil {
		panic(fmt.Sprintf("config: schema defaults: %v", err))
	}
	return c
}

// Load reads path. Files ending in .cue are CUE; anything else is YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c, err := Parse(filepath.Base(path), data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data. name picks the format by extension and labels errors.
func Parse(name string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	var v cue.Value
	if strings.HasSuffix(name, ".cue") {
		v = ctx.CompileBytes(data, cue.Filename(name))
	} else {
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
		if m == nil {
			m = map[string]any{}
		}
		v = ctx.Encode(m)
	}
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	return build(ctx, &v)
}

func build(ctx *cue.Context, v *cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, err
	}
	unified := schema
	if v != nil {
		unified = schema.Unify(*v)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	var f file
	if err := unified.Decode(&f); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return f.resolve()
}

func (f file) resolve() (Config, error) {
	c := Config{
		PositionThreshold: f.PositionThreshold,
		RotationThreshold: f.RotationThreshold,
		FetchRetries:      f.FetchRetries,
		FetchConcurrency:  f.FetchConcurrency,
		CacheDir:          f.CacheDir,
		DB:                f.DB,
		User:              f.User,
		Namespace:         f.Namespace,
		Space:             f.Space,
		Templates:         f.Templates,
		LogLevel:          f.LogLevel,
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tick", f.Tick, &c.Tick},
		{"poll_interval", f.PollInterval, &c.PollInterval},
		{"fetch_delay", f.FetchDelay, &c.FetchDelay},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return Config{}, fmt.Errorf("%s: must be positive, got %s", d.name, d.raw)
		}
		*d.dst = v
	}
	return c, nil
}
