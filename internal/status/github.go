package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// GitHub status source defaults.
const (
	DefaultBaseURL   = "https://api.github.com/"
	DefaultOwner     = "rancher"
	DefaultRepo      = "rancher"
	DefaultUserAgent = "Actions-Reader/runwatch"

	defaultRequestTimeout = 30 * time.Second
)

// ErrInvalidRunID is returned when the run identifier is not numeric.
var ErrInvalidRunID = errors.New("run id must be a positive integer")

// GitHubConfig locates the Actions API and the repository owning the run.
type GitHubConfig struct {
	BaseURL   string
	Owner     string
	Repo      string
	UserAgent string
	Timeout   time.Duration
}

// GitHubFetcher reads workflow run status from the GitHub Actions API.
type GitHubFetcher struct {
	baseURL   *url.URL
	owner     string
	repo      string
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a GitHubFetcher.
type Option func(*GitHubFetcher)

// WithTransport sets the base HTTP transport (useful for testing).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *GitHubFetcher) { f.transport = rt }
}

// WithTracerProvider sets the tracer provider used for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *GitHubFetcher) { f.tracer = tp.Tracer("github.com/dwsmith1983/runwatch/internal/status") }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *GitHubFetcher) { f.logger = l }
}

// NewGitHubFetcher validates cfg and builds a fetcher. Empty fields fall
// back to the package defaults.
func NewGitHubFetcher(cfg GitHubConfig, opts ...Option) (*GitHubFetcher, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing status base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("status base URL %q must be http or https", cfg.BaseURL)
	}

	f := &GitHubFetcher{
		baseURL:   u,
		owner:     orDefault(cfg.Owner, DefaultOwner),
		repo:      orDefault(cfg.Repo, DefaultRepo),
		userAgent: orDefault(cfg.UserAgent, DefaultUserAgent),
		timeout:   cfg.Timeout,
		transport: http.DefaultTransport,
		logger:    slog.Default(),
	}
	if f.timeout <= 0 {
		f.timeout = defaultRequestTimeout
	}
	for _, o := range opts {
		o(f)
	}
	if f.tracer == nil {
		f.tracer = otel.GetTracerProvider().Tracer("github.com/dwsmith1983/runwatch/internal/status")
	}
	return f, nil
}

// Fetch issues exactly one GET for the run and normalizes the response.
func (f *GitHubFetcher) Fetch(ctx context.Context, target types.WatchTarget) (types.RunStatus, error) {
	ctx, span := f.tracer.Start(ctx, "status.Fetch", trace.WithAttributes(
		attribute.String("run_id", target.RunID),
		attribute.String("repository", f.owner+"/"+f.repo),
	))
	defer span.End()

	runID, err := ParseRunID(target.RunID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.RunStatus{}, err
	}

	f.logger.Debug("querying run status",
		"url", f.runURL(runID),
		"run_id", target.RunID,
	)

	run, _, err := f.client(target.Credential).Actions.GetWorkflowRunByID(ctx, f.owner, f.repo, runID)
	if err != nil {
		err = classify(target.RunID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.RunStatus{}, err
	}

	st, err := Normalize(target.RunID, run.GetStatus(), run.GetConclusion())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.RunStatus{}, err
	}

	span.SetAttributes(
		attribute.String("status", st.Raw),
		attribute.String("phase", string(st.Phase)),
	)
	return st, nil
}

// ParseRunID converts a run identifier to the numeric form the API expects.
func ParseRunID(runID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(runID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return id, nil
}

// client builds a GitHub client that authenticates with the given
// credential. Each fetch gets its own so the token never outlives the call.
func (f *GitHubFetcher) client(credential string) *github.Client {
	hc := &http.Client{
		Timeout: f.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential}),
			Base:   f.transport,
		},
	}
	c := github.NewClient(hc)
	c.BaseURL = f.baseURL
	c.UserAgent = f.userAgent
	return c
}

func (f *GitHubFetcher) runURL(runID int64) string {
	return fmt.Sprintf("%srepos/%s/%s/actions/runs/%d", f.baseURL, f.owner, f.repo, runID)
}

// classify splits client errors into undecodable bodies and everything else.
func classify(runID string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return malformedErr(runID, err)
	}
	return transportErr(runID, err)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
