package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-connections/core"
)

// KeyringSecretProvider supports key rotation: new payloads are always
// sealed with the active key, while decryption routes each envelope to the
// key that originally sealed it. Rows encrypted before a rotation stay
// readable until they are rewritten by the next token refresh.
type KeyringSecretProvider struct {
	active  *AppKeySecretProvider
	retired []*AppKeySecretProvider
}

func NewKeyringSecretProvider(active *AppKeySecretProvider, retired ...*AppKeySecretProvider) (*KeyringSecretProvider, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active secret provider is required")
	}
	keyring := &KeyringSecretProvider{active: active}
	for _, provider := range retired {
		if provider == nil {
			continue
		}
		keyring.retired = append(keyring.retired, provider)
	}
	return keyring, nil
}

func (p *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || p.active == nil {
		return nil, fmt.Errorf("security: keyring secret provider is not configured")
	}
	return p.active.Encrypt(ctx, plaintext)
}

func (p *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || p.active == nil {
		return nil, fmt.Errorf("security: keyring secret provider is not configured")
	}
	parsed, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	match := p.lookup(parsed.KeyID, parsed.Version)
	if match == nil {
		return nil, fmt.Errorf(
			"security: no key in the ring matches envelope %q version %d",
			strings.TrimSpace(parsed.KeyID), parsed.Version,
		)
	}
	return match.Decrypt(ctx, ciphertext)
}

func (p *KeyringSecretProvider) Metadata() (string, int) {
	if p == nil || p.active == nil {
		return "", 0
	}
	return p.active.Metadata()
}

func (p *KeyringSecretProvider) lookup(keyID string, version int) *AppKeySecretProvider {
	if matches(p.active, keyID, version) {
		return p.active
	}
	for _, provider := range p.retired {
		if matches(provider, keyID, version) {
			return provider
		}
	}
	return nil
}

func matches(provider *AppKeySecretProvider, keyID string, version int) bool {
	if provider == nil {
		return false
	}
	if keyID != "" && keyID != provider.KeyID() {
		return false
	}
	if version > 0 && version != provider.Version() {
		return false
	}
	return true
}

var _ core.SecretProvider = (*KeyringSecretProvider)(nil)
