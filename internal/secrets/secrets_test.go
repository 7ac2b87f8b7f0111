package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecretsManager struct {
	out   *secretsmanager.GetSecretValueOutput
	err   error
	calls []string
}

func (c *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	c.calls = append(c.calls, aws.ToString(in.SecretId))
	if c.err != nil {
		return nil, c.err
	}
	return c.out, nil
}

func TestEnvProvider(t *testing.T) {
	t.Parallel()

	p := &EnvProvider{lookup: func(k string) (string, bool) {
		if k == "FROC_MINT_PRIVATE_KEY" {
			return "  0xabc  ", true
		}
		return "", false
	}}
	got, err := p.Get(context.Background(), "FROC_MINT_PRIVATE_KEY")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "0xabc" {
		t.Fatalf("value mismatch: got %q", got)
	}
	if _, err := p.Get(context.Background(), "MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(context.Background(), " "); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewEnvReadsProcessEnv(t *testing.T) {
	t.Setenv("FROC_SECRETS_TEST_KEY", " v ")
	got, err := NewEnv().Get(context.Background(), "FROC_SECRETS_TEST_KEY")
	if err != nil || got != "v" {
		t.Fatalf("Get: %q %v", got, err)
	}
}

func TestAWSProvider(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		out     *secretsmanager.GetSecretValueOutput
		err     error
		key     string
		want    string
		wantErr error
	}{
		{
			name: "string",
			out:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String(" secret ")},
			key:  "froc/mint",
			want: "secret",
		},
		{
			name: "binary",
			out:  &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("bin\n")},
			key:  "froc/mint",
			want: "bin",
		},
		{
			name: "json field",
			out:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"privateKey":"0xabc","rpc":"x"}`)},
			key:  "froc/mint#privateKey",
			want: "0xabc",
		},
		{
			name:    "missing json field",
			out:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"rpc":"x"}`)},
			key:     "froc/mint#privateKey",
			wantErr: ErrNotFound,
		},
		{
			name:    "empty secret",
			out:     &secretsmanager.GetSecretValueOutput{},
			key:     "froc/mint",
			wantErr: ErrNotFound,
		},
		{
			name:    "empty id",
			out:     &secretsmanager.GetSecretValueOutput{},
			key:     "#privateKey",
			wantErr: ErrInvalidConfig,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewAWSWithClient(&fakeSecretsManager{out: tc.out, err: tc.err})
			if err != nil {
				t.Fatalf("NewAWSWithClient: %v", err)
			}
			got, err := p.Get(context.Background(), tc.key)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}

	if _, err := NewAWSWithClient(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "FROC_MINT_PRIVATE_KEY", want: Ref{Scheme: SchemeEnv, Key: "FROC_MINT_PRIVATE_KEY"}},
		{in: "env:FROC_MINT_PRIVATE_KEY", want: Ref{Scheme: SchemeEnv, Key: "FROC_MINT_PRIVATE_KEY"}},
		{in: " AWSSM: froc/mint#privateKey ", want: Ref{Scheme: SchemeAWS, Key: "froc/mint#privateKey"}},
		{in: "", wantErr: true},
		{in: "env:", wantErr: true},
		{in: "vault:froc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseRef(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("ParseRef(%q): expected ErrInvalidConfig, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseRef(%q) = %+v, %v; want %+v", tc.in, got, err, tc.want)
		}
	}
}

func TestResolver(t *testing.T) {
	t.Parallel()

	sm := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"privateKey":"0xfeed"}`)}}
	awsBuilds := 0
	r := &Resolver{
		Env: &EnvProvider{lookup: func(string) (string, bool) { return "0xenv", true }},
		NewAWS: func(context.Context) (Provider, error) {
			awsBuilds++
			return NewAWSWithClient(sm)
		},
	}

	ctx := context.Background()
	if got, err := r.Get(ctx, "env:ANY"); err != nil || got != "0xenv" {
		t.Fatalf("env: %q %v", got, err)
	}
	if awsBuilds != 0 {
		t.Fatalf("aws provider built for env ref")
	}
	for i := 0; i < 2; i++ {
		if got, err := r.Get(ctx, "awssm:froc/mint#privateKey"); err != nil || got != "0xfeed" {
			t.Fatalf("aws: %q %v", got, err)
		}
	}
	if awsBuilds != 1 {
		t.Fatalf("aws provider built %d times", awsBuilds)
	}
	if len(sm.calls) != 2 || sm.calls[0] != "froc/mint" {
		t.Fatalf("secret ids: %v", sm.calls)
	}

	failing := &Resolver{NewAWS: func(context.Context) (Provider, error) { return nil, errors.New("no creds") }}
	if _, err := failing.Get(ctx, "awssm:froc/mint"); err == nil {
		t.Fatalf("expected aws build error")
	}
	if _, err := failing.Get(ctx, "env:X"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
