// Package config handles loading and validation of the optional runwatch.yaml
// configuration and the environment the watch is launched with.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/runwatch/internal/status"
	"github.com/dwsmith1983/runwatch/internal/watchdog"
	"github.com/dwsmith1983/runwatch/internal/watcher"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

// ErrStartup marks a fault that prevents the watch from starting.
var ErrStartup = errors.New("startup fault")

// Default returns the configuration used when no file is given.
func Default() *types.ProjectConfig {
	return &types.ProjectConfig{
		StatusSource: types.StatusSourceConfig{
			BaseURL:   status.DefaultBaseURL,
			Owner:     status.DefaultOwner,
			Repo:      status.DefaultRepo,
			UserAgent: status.DefaultUserAgent,
		},
		Watch: types.WatchConfig{
			Interval:       types.Duration(watcher.DefaultInterval),
			Ceiling:        types.Duration(watchdog.DefaultCeiling),
			RequestTimeout: types.Duration(watcher.DefaultRequestTimeout),
		},
	}
}

// Load reads the YAML file at path over the defaults. Keys the file omits
// keep their default values; unknown keys are rejected. The result is not
// validated, so callers can layer overrides on top before calling Validate.
func Load(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config: %w", ErrStartup, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing config %s: %w", ErrStartup, path, err)
	}
	return cfg, nil
}

// Validate checks that cfg can drive a watch.
func Validate(cfg *types.ProjectConfig) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("%w: validating config: %w", ErrStartup, err)
	}
	return nil
}

func validate(cfg *types.ProjectConfig) error {
	src := cfg.StatusSource
	if src.BaseURL == "" {
		return fmt.Errorf("statusSource.baseURL is required")
	}
	u, err := url.Parse(src.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("statusSource.baseURL %q must be an http(s) URL", src.BaseURL)
	}
	if src.Owner == "" {
		return fmt.Errorf("statusSource.owner is required")
	}
	if src.Repo == "" {
		return fmt.Errorf("statusSource.repo is required")
	}

	w := cfg.Watch
	if w.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive (got %s)", w.Interval)
	}
	if w.Ceiling <= 0 {
		return fmt.Errorf("watch.ceiling must be positive (got %s)", w.Ceiling)
	}
	if w.RequestTimeout <= 0 {
		return fmt.Errorf("watch.requestTimeout must be positive (got %s)", w.RequestTimeout)
	}
	if w.Interval > w.Ceiling {
		return fmt.Errorf("watch.interval %s exceeds watch.ceiling %s", w.Interval, w.Ceiling)
	}
	return nil
}
