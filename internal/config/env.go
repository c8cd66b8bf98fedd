package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Environment variable names.
const (
	EnvCredential         = "GH_TOKEN"
	EnvSinkAddress        = "SLACK_WEBHOOK"
	EnvCredentialSecretID = "GH_TOKEN_SECRET_ID"
	EnvConfigPath         = "RUNWATCH_CONFIG"
)

// Env is the slice of the process environment a watch reads.
type Env struct {
	Credential         string
	SinkAddress        string
	CredentialSecretID string
	ConfigPath         string
}

// ReadEnv collects the watch environment through getenv (normally os.Getenv).
func ReadEnv(getenv func(string) string) Env {
	return Env{
		Credential:         strings.TrimSpace(getenv(EnvCredential)),
		SinkAddress:        strings.TrimSpace(getenv(EnvSinkAddress)),
		CredentialSecretID: strings.TrimSpace(getenv(EnvCredentialSecretID)),
		ConfigPath:         strings.TrimSpace(getenv(EnvConfigPath)),
	}
}

// RequireSink reports a startup fault when no sink address is configured.
func (e Env) RequireSink() error {
	if e.SinkAddress == "" {
		return fmt.Errorf("%w: %s is not set", ErrStartup, EnvSinkAddress)
	}
	return nil
}

// SecretsAPI is the subset of the Secrets Manager client used to resolve
// the credential.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// CredentialOption configures ResolveCredential.
type CredentialOption func(*credentialResolver)

type credentialResolver struct {
	client SecretsAPI
}

// WithSecretsClient sets a custom Secrets Manager client (useful for testing).
func WithSecretsClient(c SecretsAPI) CredentialOption {
	return func(r *credentialResolver) { r.client = c }
}

// ResolveCredential returns the bearer credential for the status source.
// GH_TOKEN wins; otherwise the secret named by GH_TOKEN_SECRET_ID is read
// once from Secrets Manager.
func ResolveCredential(ctx context.Context, env Env, opts ...CredentialOption) (string, error) {
	if env.Credential != "" {
		return env.Credential, nil
	}
	if env.CredentialSecretID == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrStartup, EnvCredential)
	}

	r := &credentialResolver{}
	for _, o := range opts {
		o(r)
	}
	if r.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: loading AWS config: %w", ErrStartup, err)
		}
		r.client = secretsmanager.NewFromConfig(cfg)
	}

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(env.CredentialSecretID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: reading credential secret %s: %w", ErrStartup, env.CredentialSecretID, err)
	}
	secret := strings.TrimSpace(aws.ToString(out.SecretString))
	if secret == "" {
		return "", fmt.Errorf("%w: credential secret %s has no string value", ErrStartup, env.CredentialSecretID)
	}
	return secret, nil
}
