package security

import (
	"bytes"
	"context"
	"testing"
)

func TestKeyringSecretProvider_DecryptsEnvelopesFromRetiredKeys(t *testing.T) {
	retired, err := NewAppKeySecretProviderFromString("old-key", WithKeyID("app-key"), WithVersion(1))
	if err != nil {
		t.Fatalf("new retired provider: %v", err)
	}
	active, err := NewAppKeySecretProviderFromString("new-key", WithKeyID("app-key"), WithVersion(2))
	if err != nil {
		t.Fatalf("new active provider: %v", err)
	}

	oldCiphertext, err := retired.Encrypt(context.Background(), []byte("legacy-payload"))
	if err != nil {
		t.Fatalf("encrypt with retired key: %v", err)
	}

	keyring, err := NewKeyringSecretProvider(active, retired)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	decrypted, err := keyring.Decrypt(context.Background(), oldCiphertext)
	if err != nil {
		t.Fatalf("decrypt legacy envelope: %v", err)
	}
	if string(decrypted) != "legacy-payload" {
		t.Fatalf("expected legacy payload, got %q", string(decrypted))
	}
}

func TestKeyringSecretProvider_EncryptsWithActiveKey(t *testing.T) {
	retired, err := NewAppKeySecretProviderFromString("old-key", WithVersion(1))
	if err != nil {
		t.Fatalf("new retired provider: %v", err)
	}
	active, err := NewAppKeySecretProviderFromString("new-key", WithVersion(2))
	if err != nil {
		t.Fatalf("new active provider: %v", err)
	}
	keyring, err := NewKeyringSecretProvider(active, retired)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	ciphertext, err := keyring.Encrypt(context.Background(), []byte("fresh-payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// The active provider alone must be able to open it.
	decrypted, err := active.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("decrypt with active key: %v", err)
	}
	if !bytes.Equal(decrypted, []byte("fresh-payload")) {
		t.Fatalf("expected fresh payload, got %q", string(decrypted))
	}

	keyID, version := keyring.Metadata()
	if keyID != "app-key" || version != 2 {
		t.Fatalf("expected active metadata app-key/2, got %s/%d", keyID, version)
	}
}

func TestKeyringSecretProvider_RejectsUnknownKey(t *testing.T) {
	foreign, err := NewAppKeySecretProviderFromString("foreign-key", WithKeyID("foreign"), WithVersion(7))
	if err != nil {
		t.Fatalf("new foreign provider: %v", err)
	}
	active, err := NewAppKeySecretProviderFromString("new-key", WithVersion(1))
	if err != nil {
		t.Fatalf("new active provider: %v", err)
	}
	keyring, err := NewKeyringSecretProvider(active)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	ciphertext, err := foreign.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt with foreign key: %v", err)
	}
	if _, err := keyring.Decrypt(context.Background(), ciphertext); err == nil {
		t.Fatalf("expected unknown key envelope to fail decryption")
	}
}

func TestNewKeyringSecretProvider_RequiresActiveKey(t *testing.T) {
	if _, err := NewKeyringSecretProvider(nil); err == nil {
		t.Fatalf("expected error for missing active provider")
	}
}
