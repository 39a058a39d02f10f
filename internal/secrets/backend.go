package secrets

import "context"

// Backend is the capability the core consumes for external secret stores
// (Vault, AWS Secrets Manager, ...); those specific drivers are external
// collaborators. The core ships one concrete driver (AgeFileBackend) so
// the interface has at least one exerciseable implementation.
type Backend interface {
	// Name identifies the backend for diagnostics.
	Name() string
	// Get resolves key to a secret value, or an error if unavailable.
	Get(ctx context.Context, key string) (SensitiveString, error)
}

// MemoryBackend is a trivial in-process Backend, useful for tests and for
// CommandLineDefaults-style injected secrets.
type MemoryBackend struct {
	values map[string]string
}

// NewMemoryBackend wraps a plain map as a Backend.
func NewMemoryBackend(values map[string]string) *MemoryBackend {
	return &MemoryBackend{values: values}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context, key string) (SensitiveString, error) {
	v, ok := m.values[key]
	if !ok {
		return SensitiveString{}, &NotFoundError{Key: key}
	}
	return New(v), nil
}

// NotFoundError reports a missing backend key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "secret not found: " + e.Key
}
