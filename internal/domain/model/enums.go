package model

import (
	"fmt"
	"strings"
)

// Method identifies how the moving factor of a one-time password is derived.
type Method string

const (
	MethodTOTP  Method = "totp"
	MethodHOTP  Method = "hotp"
	MethodSteam Method = "steam" // TOTP variant with a 5-character alphabet code.
)

// IsTimeBased reports whether pins for this method roll over with wall-clock time.
func (m Method) IsTimeBased() bool {
	return m == MethodTOTP || m == MethodSteam
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodTOTP, MethodHOTP, MethodSteam:
		return true
	default:
		return false
	}
}

// ParseMethod accepts the spellings found in otpauth URIs and backup files.
// "otp" is treated as totp for compatibility with older exports.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "totp", "otp":
		return MethodTOTP, nil
	case "hotp":
		return MethodHOTP, nil
	case "steam":
		return MethodSteam, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// Algorithm is the HMAC digest used to derive pins.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
)

// Valid reports whether a is a known digest.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512:
		return true
	default:
		return false
	}
}

// ParseAlgorithm normalises digest names such as "SHA1", "sha-256" or "SHA512".
// An unknown name is returned unchanged so the engine can reject it with a
// typed error.
func ParseAlgorithm(s string) Algorithm {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch norm {
	case "sha1":
		return AlgorithmSHA1
	case "sha256":
		return AlgorithmSHA256
	case "sha512":
		return AlgorithmSHA512
	default:
		return Algorithm(norm)
	}
}

// PinState describes whether an account currently has a displayable pin.
type PinState string

const (
	PinStateOK       PinState = "ok"
	PinStateDegraded PinState = "degraded" // Pin could not be computed; show a placeholder.
)

// Defaults applied when neither the caller nor the provider catalog supplies a value.
const (
	DefaultDigits      = 6
	DefaultPeriod      = 30
	DefaultSteamPeriod = 30
	SteamDigits        = 5
	DefaultCounter     = 0
)
