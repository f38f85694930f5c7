package config

import (
	"testing"
)

func TestEnsureSecrets_GeneratesMissingValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}

	if cfg.Security.EncryptionKey == "" {
		t.Fatal("encryption key should be auto-generated")
	}
	// 32 random bytes hex-encoded -> 64 chars.
	if len(cfg.Security.EncryptionKey) != 64 {
		t.Fatalf("encryption key length = %d, want 64", len(cfg.Security.EncryptionKey))
	}
}

func TestEnsureSecrets_PreservesProvidedValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Security: SecurityConfig{
			EncryptionKey: "keep-existing-encryption-key-that-is-long-enough",
		},
	}

	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}

	if got := cfg.Security.EncryptionKey; got != "keep-existing-encryption-key-that-is-long-enough" {
		t.Fatalf("encryption key changed unexpectedly: %q", got)
	}
}

func TestConfigValidate_RejectsShortEncryptionKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Broker:      BrokerConfig{MaxRetries: 3},
		Integration: IntegrationConfig{MaxRetries: 3},
		Security: SecurityConfig{
			EncryptionKey: "short-key",
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for short encryption key, got nil")
	}
}

func TestConfigValidate_RejectsNonPositiveRetries(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Broker:      BrokerConfig{MaxRetries: 0},
		Integration: IntegrationConfig{MaxRetries: 3},
		Security:    SecurityConfig{EncryptionKey: "0123456789abcdef0123456789abcdef"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for zero broker max_retries, got nil")
	}
}
