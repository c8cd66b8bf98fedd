package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwatch/internal/alert"
	"github.com/dwsmith1983/runwatch/internal/config"
	"github.com/dwsmith1983/runwatch/internal/status"
	"github.com/dwsmith1983/runwatch/pkg/types"
)

func newStatusCmd(flags *sourceFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Query a run once and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(os.Stderr, flags.logLevel, flags.logFormat)
			if err != nil {
				return err
			}
			sigCtx, stop := withSignals(cmd.Context())
			defer stop()

			env := config.ReadEnv(os.Getenv)
			cfg, err := loadConfig(flags.configPath, env, flags.overrides(cmd))
			if err != nil {
				return err
			}
			credential, err := config.ResolveCredential(sigCtx, env)
			if err != nil {
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
				return fmt.Errorf("%w: creating status fetcher: %w", config.ErrStartup, err)
			}

			ctx, cancel := context.WithTimeout(sigCtx, cfg.Watch.RequestTimeout.Std()+5*time.Second)
			defer cancel()
			target := types.WatchTarget{RunID: args[0], Credential: credential}
			if err := printStatus(ctx, cmd.OutOrStdout(), fetcher, target); err != nil {
				return interruptedOr(sigCtx, err)
			}
			return nil
		},
	}
}

// printStatus fetches the run once and writes a one-line summary.
func printStatus(ctx context.Context, out io.Writer, fetcher status.Fetcher, target types.WatchTarget) error {
	st, err := fetcher.Fetch(ctx, target)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	if st.IsTerminal() {
		_, err = fmt.Fprintf(out, "%s %s %s\n", bold.Sprintf("run %s", target.RunID), color.GreenString("completed"), alert.ConclusionLabel(st.Conclusion))
	} else {
		_, err = fmt.Fprintf(out, "%s %s\n", bold.Sprintf("run %s", target.RunID), color.YellowString(st.Raw))
	}
	return err
}

// interruptedOr reports the signal that cancelled ctx in place of err, so
// an interrupted query exits like an interrupted watch.
func interruptedOr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrInterrupted) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
