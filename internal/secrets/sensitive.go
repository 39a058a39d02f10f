// Package secrets implements the no-log registry and SecretBackend
// contract: SensitiveString wrappers, a redaction registry scanned over
// arbitrary outgoing text, and known-sensitive-field-name matching.
package secrets

const redactedSentinel = "[REDACTED]"

// SensitiveString wraps a secret value so it can flow through ordinary Go
// values (structs, maps) without accidentally stringifying to its plaintext.
// The only way to get the underlying value back out is Expose.
type SensitiveString struct {
	value string
}

// New wraps value as a SensitiveString.
func New(value string) SensitiveString {
	return SensitiveString{value: value}
}

// Expose returns the wrapped plaintext. Callers that call Expose are
// responsible for registering the literal with a Registry before it can
// leave the process (log line, stdout, notification payload).
func (s SensitiveString) Expose() string {
	return s.value
}

// String implements fmt.Stringer; it never returns the plaintext.
func (s SensitiveString) String() string {
	return redactedSentinel
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s SensitiveString) GoString() string {
	return redactedSentinel
}

// MarshalJSON implements json.Marshaler; SensitiveString always serializes
// to the redaction sentinel, never the plaintext.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedSentinel + `"`), nil
}

// MarshalText implements encoding.TextMarshaler for text-based encoders.
func (s SensitiveString) MarshalText() ([]byte, error) {
	return []byte(redactedSentinel), nil
}
