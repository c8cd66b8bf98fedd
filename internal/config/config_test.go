package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "https://api.github.com/", cfg.StatusSource.BaseURL)
	assert.Equal(t, "rancher", cfg.StatusSource.Owner)
	assert.Equal(t, "rancher", cfg.StatusSource.Repo)
	assert.Equal(t, 60*time.Second, cfg.Watch.Interval.Std())
	assert.Equal(t, time.Hour, cfg.Watch.Ceiling.Std())
	assert.Equal(t, 30*time.Second, cfg.Watch.RequestTimeout.Std())
	assert.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `statusSource:
  baseURL: https://github.example.com/api/v3/
  owner: acme
  repo: widgets
watch:
  interval: 15s
  ceiling: 20m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/api/v3/", cfg.StatusSource.BaseURL)
	assert.Equal(t, "acme", cfg.StatusSource.Owner)
	assert.Equal(t, "widgets", cfg.StatusSource.Repo)
	assert.Equal(t, 15*time.Second, cfg.Watch.Interval.Std())
	assert.Equal(t, 20*time.Minute, cfg.Watch.Ceiling.Std())
	// Omitted keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Watch.RequestTimeout.Std())
	assert.Equal(t, Default().StatusSource.UserAgent, cfg.StatusSource.UserAgent)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrStartup)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "watch: [yaml"))
	assert.ErrorIs(t, err, ErrStartup)
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "watch:\n  intervall: 5s\n"))
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "intervall")
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "watch:\n  interval: soon\n"))
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.ProjectConfig)
		want   string
	}{
		{"empty base URL", func(c *types.ProjectConfig) { c.StatusSource.BaseURL = "" }, "baseURL is required"},
		{"non-http base URL", func(c *types.ProjectConfig) { c.StatusSource.BaseURL = "ftp://x" }, "must be an http(s) URL"},
		{"missing owner", func(c *types.ProjectConfig) { c.StatusSource.Owner = "" }, "owner is required"},
		{"missing repo", func(c *types.ProjectConfig) { c.StatusSource.Repo = "" }, "repo is required"},
		{"zero interval", func(c *types.ProjectConfig) { c.Watch.Interval = 0 }, "interval must be positive"},
		{"negative ceiling", func(c *types.ProjectConfig) { c.Watch.Ceiling = types.Duration(-time.Second) }, "ceiling must be positive"},
		{"zero request timeout", func(c *types.ProjectConfig) { c.Watch.RequestTimeout = 0 }, "requestTimeout must be positive"},
		{"interval above ceiling", func(c *types.ProjectConfig) { c.Watch.Interval = types.Duration(2 * time.Hour) }, "exceeds watch.ceiling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.ErrorIs(t, err, ErrStartup)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadEnv(t *testing.T) {
	vars := map[string]string{
		"GH_TOKEN":        " tok-1 ",
		"SLACK_WEBHOOK":   "https://hooks.example.com/x",
		"RUNWATCH_CONFIG": "/etc/runwatch.yaml",
	}
	env := ReadEnv(func(k string) string { return vars[k] })

	assert.Equal(t, "tok-1", env.Credential)
	assert.Equal(t, "https://hooks.example.com/x", env.SinkAddress)
	assert.Equal(t, "/etc/runwatch.yaml", env.ConfigPath)
	assert.Empty(t, env.CredentialSecretID)
	assert.NoError(t, env.RequireSink())
}

func TestRequireSink(t *testing.T) {
	err := Env{Credential: "tok"}.RequireSink()
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "SLACK_WEBHOOK")
}

type mockSecrets struct {
	secret *string
	err    error
	ids    []string
}

func (m *mockSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.ids = append(m.ids, aws.ToString(in.SecretId))
	if m.err != nil {
		return nil, m.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: m.secret}, nil
}

func TestResolveCredential_FromEnv(t *testing.T) {
	mock := &mockSecrets{secret: aws.String("from-secret")}
	got, err := ResolveCredential(context.Background(), Env{Credential: "tok", CredentialSecretID: "gh"}, WithSecretsClient(mock))
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
	assert.Empty(t, mock.ids, "secret must not be read when GH_TOKEN is set")
}

func TestResolveCredential_FromSecret(t *testing.T) {
	mock := &mockSecrets{secret: aws.String("from-secret\n")}
	got, err := ResolveCredential(context.Background(), Env{CredentialSecretID: "ci/gh-token"}, WithSecretsClient(mock))
	require.NoError(t, err)
	assert.Equal(t, "from-secret", got)
	assert.Equal(t, []string{"ci/gh-token"}, mock.ids)
}

func TestResolveCredential_Missing(t *testing.T) {
	_, err := ResolveCredential(context.Background(), Env{})
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "GH_TOKEN")
}

func TestResolveCredential_SecretErrors(t *testing.T) {
	_, err := ResolveCredential(context.Background(), Env{CredentialSecretID: "gh"},
		WithSecretsClient(&mockSecrets{err: errors.New("access denied")}))
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "access denied")

	_, err = ResolveCredential(context.Background(), Env{CredentialSecretID: "gh"},
		WithSecretsClient(&mockSecrets{}))
	require.ErrorIs(t, err, ErrStartup)
	assert.Contains(t, err.Error(), "no string value")
}

func TestLoadDoesNotValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "watch:\n  interval: 2h\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Watch.Interval.Std())
	assert.ErrorIs(t, Validate(cfg), ErrStartup)
}
