package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// ageEncryptedPrefix marks a value in an AgeFileBackend document as
// ciphertext rather than plaintext; plaintext values pass through
// untouched so a file can mix both.
const ageEncryptedPrefix = "encrypted:conclave:v1:"

// AgeFileBackend is a SecretBackend reading `key=value` lines from a file,
// where values may be age-encrypted under ageEncryptedPrefix. It is the
// core's one concrete, shippable SecretBackend driver — Vault/AWS remain
// external
type AgeFileBackend struct {
	path     string
	identity *age.X25519Identity
}

// NewAgeFileBackend opens path for reads, decrypting with identity when a
// value carries the encrypted prefix.
func NewAgeFileBackend(path string, identity *age.X25519Identity) *AgeFileBackend {
	return &AgeFileBackend{path: path, identity: identity}
}

func (b *AgeFileBackend) Name() string { return "age-file:" + b.path }

func (b *AgeFileBackend) Get(_ context.Context, key string) (SensitiveString, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return SensitiveString{}, fmt.Errorf("age backend: read %s: %w", b.path, err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		value := strings.TrimSpace(v)
		if strings.HasPrefix(value, ageEncryptedPrefix) {
			plain, err := decryptAgeValue(value, b.identity)
			if err != nil {
				return SensitiveString{}, fmt.Errorf("age backend: decrypt %s: %w", key, err)
			}
			return New(plain), nil
		}
		return New(value), nil
	}
	return SensitiveString{}, &NotFoundError{Key: key}
}

// EncryptAgeValue encrypts plaintext for recipients, returning a value
// suitable for storage in an AgeFileBackend document.
func EncryptAgeValue(plaintext string, recipients []age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return ageEncryptedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decryptAgeValue(value string, identity *age.X25519Identity) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("decrypt requires an age identity")
	}
	payload := strings.TrimPrefix(value, ageEncryptedPrefix)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
