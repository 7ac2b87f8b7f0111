package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

const (
	SchemeEnv = "env"
	SchemeAWS = "awssm"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads AWS Secrets Manager. A key of the form "<id>#<field>"
// selects one string field of a JSON secret.
type AWSProvider struct {
	client SecretsManagerClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client SecretsManagerClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	id, field, _ := strings.Cut(strings.TrimSpace(key), "#")
	if id == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", id, err)
	}

	var value string
	switch {
	case strings.TrimSpace(aws.ToString(out.SecretString)) != "":
		value = strings.TrimSpace(aws.ToString(out.SecretString))
	case len(out.SecretBinary) > 0:
		value = strings.TrimSpace(string(out.SecretBinary))
	default:
		return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, id)
	}
	if field == "" {
		return value, nil
	}
	return jsonField(id, value, field)
}

func jsonField(id, doc, field string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return "", fmt.Errorf("secrets: secret %q is not a json object: %w", id, err)
	}
	v, ok := fields[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: secret %q has no string field %q", ErrNotFound, id, field)
	}
	return strings.TrimSpace(v), nil
}

type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnv() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil || p.lookup == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v, _ := p.lookup(key)
	if v = strings.TrimSpace(v); v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}

// Ref names a secret as "<scheme>:<key>", e.g. "env:FROC_MINT_PRIVATE_KEY" or
// "awssm:froc/mint#privateKey". A bare key is read from the environment.
type Ref struct {
	Scheme string
	Key    string
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty secret ref", ErrInvalidConfig)
	}
	scheme, key, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{Scheme: SchemeEnv, Key: s}, nil
	}
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	key = strings.TrimSpace(key)
	if key == "" {
		return Ref{}, fmt.Errorf("%w: secret ref %q has no key", ErrInvalidConfig, s)
	}
	switch scheme {
	case SchemeEnv, SchemeAWS:
		return Ref{Scheme: scheme, Key: key}, nil
	default:
		return Ref{}, fmt.Errorf("%w: unsupported secret scheme %q", ErrInvalidConfig, scheme)
	}
}

// Resolver dispatches refs to providers. The AWS provider is built on first
// use so env-only deployments never load AWS config.
type Resolver struct {
	Env    Provider
	NewAWS func(ctx context.Context) (Provider, error)

	aws Provider
}

func NewResolver() *Resolver {
	return &Resolver{
		Env: NewEnv(),
		NewAWS: func(ctx context.Context) (Provider, error) {
			return NewAWS(ctx)
		},
	}
}

func (r *Resolver) Get(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case SchemeAWS:
		if r.aws == nil {
			if r.NewAWS == nil {
				return "", fmt.Errorf("%w: aws secrets not configured", ErrInvalidConfig)
			}
			p, err := r.NewAWS(ctx)
			if err != nil {
				return "", err
			}
			r.aws = p
		}
		return r.aws.Get(ctx, parsed.Key)
	default:
		if r.Env == nil {
			return "", fmt.Errorf("%w: env secrets not configured", ErrInvalidConfig)
		}
		return r.Env.Get(ctx, parsed.Key)
	}
}
