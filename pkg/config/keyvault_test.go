package config

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/require"
)

type fakeSecretClient struct {
	values map[string]string
}

func (f fakeSecretClient) GetSecret(ctx context.Context, name, version string, opts *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	v := f.values[name]
	resp := azsecrets.GetSecretResponse{}
	resp.Value = &v
	return resp, nil
}

func TestResolveSecretsWithReplacesVaultRefs(t *testing.T) {
	cfg := &Config{}
	cfg.Postgres.DSN = "vault:postgres-dsn"
	cfg.Auth.JWTSecret = "plain-secret"

	client := fakeSecretClient{values: map[string]string{"postgres-dsn": "postgres://resolved"}}
	require.NoError(t, resolveSecretsWith(context.Background(), cfg, client))

	require.Equal(t, "postgres://resolved", cfg.Postgres.DSN)
	require.Equal(t, "plain-secret", cfg.Auth.JWTSecret)
}

func TestResolveSecretsNoopWhenDisabled(t *testing.T) {
	cfg := New()
	cfg.Postgres.DSN = "vault:postgres-dsn"
	require.NoError(t, ResolveSecrets(context.Background(), cfg))
	require.Equal(t, "vault:postgres-dsn", cfg.Postgres.DSN)
}
