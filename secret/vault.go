package secret

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
)

// VaultProvider resolves secrets from a Vault KVv2 mount, logging in
// with an AppRole. It reads the whole secret path once per lookup; runs
// are short-lived enough that caching isn't worth the staleness risk.
type VaultProvider struct {
	client *vault.Client

	mount string
	path  string
}

// VaultConfig is everything needed to reach the Vault server and the
// KVv2 path holding the CI secrets.
type VaultConfig struct {
	Address  string
	RoleID   string
	SecretID string
	Mount    string
	Path     string
}

// NewVaultProvider connects to Vault and performs the AppRole login.
func NewVaultProvider(ctx context.Context, cfg VaultConfig) (*VaultProvider, error) {
	client, err := vault.New(
		vault.WithAddress(cfg.Address),
		vault.WithRequestTimeout(30*time.Second),
	)
	if err != nil {
		return nil, err
	}

	resp, err := client.Auth.AppRoleLogin(ctx, schema.AppRoleLoginRequest{
		RoleId:   cfg.RoleID,
		SecretId: cfg.SecretID,
	})
	if err != nil {
		return nil, fmt.Errorf("vault login failed: %w", err)
	}

	if err := client.SetToken(resp.Auth.ClientToken); err != nil {
		return nil, err
	}

	logger.WithField("mount", cfg.Mount).Debug("vault approle login succeeded")

	return &VaultProvider{
		client: client,
		mount:  cfg.Mount,
		path:   cfg.Path,
	}, nil
}

// Get reads the named secret from the configured KVv2 path.
func (p *VaultProvider) Get(name string) (string, error) {
	resp, err := p.client.Secrets.KvV2Read(
		context.Background(),
		p.path,
		vault.WithMountPath(p.mount),
	)
	if err != nil {
		return "", err
	}

	raw, ok := resp.Data.Data[name]
	if !ok {
		return "", fmt.Errorf("secret %q not set", name)
	}

	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret %q is not a string", name)
	}

	return val, nil
}
