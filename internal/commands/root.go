// Package commands implements the CLI for the runwatch binary.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwatch/internal/config"
	"github.com/dwsmith1983/runwatch/internal/telemetry"
)

// sourceFlags are the status-source settings shared by every command.
type sourceFlags struct {
	configPath string
	baseURL    string
	owner      string
	repo       string
	logLevel   string
	logFormat  string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to runwatch.yaml (default $"+config.EnvConfigPath+")")
	pf.StringVar(&f.baseURL, "base-url", "", "status API base URL")
	pf.StringVar(&f.owner, "owner", "", "repository owner")
	pf.StringVar(&f.repo, "repo", "", "repository name")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "json", "log format: json or text")
}

// overrides returns the source settings given explicitly on the command line.
func (f *sourceFlags) overrides(cmd *cobra.Command) Overrides {
	var o Overrides
	if cmd.Flags().Changed("base-url") {
		o.BaseURL = &f.baseURL
	}
	if cmd.Flags().Changed("owner") {
		o.Owner = &f.owner
	}
	if cmd.Flags().Changed("repo") {
		o.Repo = &f.repo
	}
	return o
}

// NewRootCmd creates the runwatch command tree.
func NewRootCmd(version string) *cobra.Command {
	var (
		flags          sourceFlags
		interval       time.Duration
		ceiling        time.Duration
		requestTimeout time.Duration
	)

	root := &cobra.Command{
		Use:   "runwatch <run-id> <display-name>",
		Short: "Watch a GitHub Actions run and notify once when it completes",
		Long: `runwatch polls the status of a single workflow run until it completes,
then delivers exactly one notification carrying the display name and the
run's conclusion to the sink addressed by $SLACK_WEBHOOK.

The status API credential is read from $GH_TOKEN, or from the AWS Secrets
Manager secret named by $GH_TOKEN_SECRET_ID.`,
		Version:       version,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(os.Stderr, flags.logLevel, flags.logFormat)
			if err != nil {
				return err
			}

			shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Config{
				ServiceName:    "runwatch",
				ServiceVersion: version,
			})
			if err != nil {
				logger.Warn("telemetry disabled", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()

			ctx, stop := withSignals(cmd.Context())
			defer stop()

			o := flags.overrides(cmd)
			if cmd.Flags().Changed("interval") {
				o.Interval = &interval
			}
			if cmd.Flags().Changed("ceiling") {
				o.Ceiling = &ceiling
			}
			if cmd.Flags().Changed("request-timeout") {
				o.RequestTimeout = &requestTimeout
			}

			return Watch(ctx, WatchOptions{
				RunID:       args[0],
				DisplayName: args[1],
				ConfigPath:  flags.configPath,
				Overrides:   o,
				Env:         config.ReadEnv(os.Getenv),
				Logger:      logger,
			})
		},
	}

	flags.register(root)
	root.Flags().DurationVar(&interval, "interval", 0, "poll interval (default 60s)")
	root.Flags().DurationVar(&ceiling, "ceiling", 0, "give up after this long (default 1h)")
	root.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "timeout for each status query and the notification (default 30s)")

	root.AddCommand(newStatusCmd(&flags))
	root.SetVersionTemplate(fmt.Sprintf("runwatch %s\n", version))
	return root
}
