package model

import "log/slog"

// Secret is a base32-encoded shared key. Its String and LogValue methods
// redact the value so it cannot leak through fmt or slog by accident; call
// Reveal to obtain the raw encoding.
type Secret string

const redacted = "[REDACTED]"

// Reveal returns the base32 encoding of the secret.
func (s Secret) Reveal() string {
	return string(s)
}

// IsEmpty reports whether the secret has no content.
func (s Secret) IsEmpty() bool {
	return s == ""
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s Secret) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
