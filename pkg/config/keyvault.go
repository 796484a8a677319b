package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// secretRefPrefix marks the "vault:<secret-name>" convention recognized by
// ResolveSecrets: any config value spelled that way is replaced by the
// named secret's current version, fetched from KeyVault.VaultURL.
const secretRefPrefix = "vault:"

// secretClient is the subset of azsecrets.Client ResolveSecrets needs, so
// tests can supply a fake instead of an authenticated Azure client.
type secretClient interface {
	GetSecret(ctx context.Context, name, version string, opts *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// ResolveSecrets replaces any "vault:"-prefixed field in cfg (currently
// Postgres.DSN and Auth.JWTSecret) with the corresponding Azure Key Vault
// secret value. It is a no-op unless KeyVault.Enabled is set, mirroring the
// teacher's optional Supabase-secret resolution step in its own config
// loader — an ambient concern, not a core reactive-engine one.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	if !cfg.KeyVault.Enabled {
		return nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return fmt.Errorf("keyvault: build credential: %w", err)
	}
	client, err := azsecrets.NewClient(cfg.KeyVault.VaultURL, cred, nil)
	if err != nil {
		return fmt.Errorf("keyvault: build client: %w", err)
	}
	return resolveSecretsWith(ctx, cfg, client)
}

func resolveSecretsWith(ctx context.Context, cfg *Config, client secretClient) error {
	resolved, err := resolveOne(ctx, client, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("keyvault: resolve postgres dsn: %w", err)
	}
	cfg.Postgres.DSN = resolved

	resolved, err = resolveOne(ctx, client, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("keyvault: resolve jwt secret: %w", err)
	}
	cfg.Auth.JWTSecret = resolved

	return nil
}

func resolveOne(ctx context.Context, client secretClient, value string) (string, error) {
	name, ok := strings.CutPrefix(value, secretRefPrefix)
	if !ok {
		return value, nil
	}
	resp, err := client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret %q has no value", name)
	}
	return *resp.Value, nil
}
