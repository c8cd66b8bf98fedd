package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/runwatch/internal/alert"
	"github.com/dwsmith1983/runwatch/internal/config"
	"github.com/dwsmith1983/runwatch/internal/status"
	"github.com/dwsmith1983/runwatch/internal/watchdog"
	"github.com/dwsmith1983/runwatch/internal/watcher"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Overrides are configuration values given on the command line. Nil fields
// leave the file or default value in place.
type Overrides struct {
	BaseURL        *string
	Owner          *string
	Repo           *string
	Interval       *time.Duration
	Ceiling        *time.Duration
	RequestTimeout *time.Duration
}

func (o Overrides) apply(cfg *types.ProjectConfig) {
	if o.BaseURL != nil {
		cfg.StatusSource.BaseURL = *o.BaseURL
	}
	if o.Owner != nil {
		cfg.StatusSource.Owner = *o.Owner
	}
	if o.Repo != nil {
		cfg.StatusSource.Repo = *o.Repo
	}
	if o.Interval != nil {
		cfg.Watch.Interval = types.Duration(*o.Interval)
	}
	if o.Ceiling != nil {
		cfg.Watch.Ceiling = types.Duration(*o.Ceiling)
	}
	if o.RequestTimeout != nil {
		cfg.Watch.RequestTimeout = types.Duration(*o.RequestTimeout)
	}
}

// WatchOptions is everything one watch needs from the process.
type WatchOptions struct {
	RunID       string
	DisplayName string
	ConfigPath  string
	Overrides   Overrides
	Env         config.Env
	Logger      *slog.Logger

	// CredentialOptions are passed to config.ResolveCredential.
	CredentialOptions []config.CredentialOption
}

// Watch runs one watch to completion: it polls the run until it completes,
// notifies once and returns. The result is nil after a delivered
// notification, an error matching config.ErrStartup when the watch could not
// start, a *watcher.NotifyError when delivery failed, an error matching
// watchdog.ErrCeilingReached when the run outlived the ceiling, or the
// cancellation cause of ctx.
func Watch(ctx context.Context, opts WatchOptions) error {
	watchID := ulid.Make().String()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("watch_id", watchID)

	target, cfg, err := prepare(ctx, opts)
	if err != nil {
		logger.Error("watch not started", "error", err)
		return err
	}

	fetcher, err := status.NewGitHubFetcher(status.GitHubConfig{
		BaseURL:   cfg.StatusSource.BaseURL,
		Owner:     cfg.StatusSource.Owner,
		Repo:      cfg.StatusSource.Repo,
		UserAgent: cfg.StatusSource.UserAgent,
		Timeout:   cfg.Watch.RequestTimeout.Std(),
	}, status.WithLogger(logger))
	if err != nil {
		return startupErr(logger, "creating status fetcher", err)
	}

	sink, err := alert.NewSink(ctx, alert.Config{
		Address:        opts.Env.SinkAddress,
		UserAgent:      cfg.StatusSource.UserAgent,
		IdempotencyKey: watchID,
		Timeout:        cfg.Watch.RequestTimeout.Std(),
	})
	if err != nil {
		return startupErr(logger, "creating notification sink", err)
	}

	w, err := watcher.New(fetcher, sink, target, watcher.Config{
		Interval:       cfg.Watch.Interval.Std(),
		RequestTimeout: cfg.Watch.RequestTimeout.Std(),
	}, watcher.WithLogger(logger))
	if err != nil {
		return startupErr(logger, "creating watcher", err)
	}

	logger.Info("watching run",
		"run_id", target.RunID,
		"display_name", target.DisplayName,
		"repository", cfg.StatusSource.Owner+"/"+cfg.StatusSource.Repo,
		"sink", sink.Name(),
		"interval", cfg.Watch.Interval.Std(),
		"ceiling", cfg.Watch.Ceiling.Std(),
	)

	err = watchdog.Run(ctx, watchdog.Options{
		Ceiling: cfg.Watch.Ceiling.Std(),
		Logger:  logger,
	}, w.Run)

	var nerr *watcher.NotifyError
	switch {
	case err == nil:
		logger.Info("watch finished", "run_id", target.RunID, "fetches", w.Fetches())
	case errors.As(err, &nerr):
		logger.Error("watch finished without delivering the outcome",
			"run_id", target.RunID, "step_status", nerr.Outcome.StepStatus, "error", err)
	case errors.Is(err, watchdog.ErrCeilingReached):
		logger.Error("run did not complete before the ceiling",
			"run_id", target.RunID, "fetches", w.Fetches())
	default:
		logger.Info("watch cancelled", "run_id", target.RunID, "reason", err)
	}
	return err
}

// prepare validates the arguments and environment and assembles the
// configuration. Every failure matches config.ErrStartup.
func prepare(ctx context.Context, opts WatchOptions) (types.WatchTarget, *types.ProjectConfig, error) {
	runID := strings.TrimSpace(opts.RunID)
	name := strings.TrimSpace(opts.DisplayName)
	if runID == "" {
		return types.WatchTarget{}, nil, fmt.Errorf("%w: run id is required", config.ErrStartup)
	}
	if _, err := status.ParseRunID(runID); err != nil {
		return types.WatchTarget{}, nil, fmt.Errorf("%w: %w", config.ErrStartup, err)
	}
	if name == "" {
		return types.WatchTarget{}, nil, fmt.Errorf("%w: display name is required", config.ErrStartup)
	}
	if err := opts.Env.RequireSink(); err != nil {
		return types.WatchTarget{}, nil, err
	}

	cfg, err := loadConfig(opts.ConfigPath, opts.Env, opts.Overrides)
	if err != nil {
		return types.WatchTarget{}, nil, err
	}

	credential, err := config.ResolveCredential(ctx, opts.Env, opts.CredentialOptions...)
	if err != nil {
		return types.WatchTarget{}, nil, err
	}

	return types.WatchTarget{RunID: runID, DisplayName: name, Credential: credential}, cfg, nil
}

// loadConfig reads the file named by the flag or $RUNWATCH_CONFIG, falling
// back to defaults, and applies command-line overrides.
func loadConfig(path string, env config.Env, o Overrides) (*types.ProjectConfig, error) {
	if path == "" {
		path = env.ConfigPath
	}
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	o.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func startupErr(logger *slog.Logger, what string, err error) error {
	err = fmt.Errorf("%w: %s: %w", config.ErrStartup, what, err)
	logger.Error("watch not started", "error", err)
	return err
}
