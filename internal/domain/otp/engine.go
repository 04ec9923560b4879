// Package otp derives one-time passwords from a shared secret. Every function
// is pure: the same secret, parameters and instant always yield the same pin.
package otp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	libotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// Sentinel errors. None of them ever include secret material.
var (
	// ErrInvalidSecret indicates an empty secret or one that is not valid base32.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrUnsupportedDigest indicates an HMAC digest other than SHA1/SHA256/SHA512.
	ErrUnsupportedDigest = errors.New("unsupported digest")

	// ErrUnsupportedMethod indicates a method other than totp/hotp/steam.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrInvalidDigits indicates a digit count outside {6, 8}.
	ErrInvalidDigits = errors.New("digits must be 6 or 8")

	// ErrInvalidPeriod indicates a non-positive period for a time-based method.
	ErrInvalidPeriod = errors.New("period must be greater than zero")
)

const secretSize = 20 // 160 bits, the RFC 4226 recommendation.

// SteamLength is the fixed length of a Steam Guard code.
const SteamLength = 5

var b32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// Compute derives the pin for the given parameters at instant at. For HOTP
// the instant only stamps IssuedAt; the moving factor is p.Counter.
func Compute(secret model.Secret, p model.OTPParams, at time.Time) (model.OTPResult, error) {
	if _, err := DecodeSecret(secret); err != nil {
		return model.OTPResult{}, err
	}
	if err := checkParams(p); err != nil {
		return model.OTPResult{}, err
	}

	switch p.Method {
	case model.MethodHOTP:
		pin, err := hotpCode(secret, p.Counter, p)
		if err != nil {
			return model.OTPResult{}, err
		}
		return model.OTPResult{
			Pin:         pin,
			IssuedAt:    at,
			Counter:     p.Counter,
			NextCounter: p.Counter + 1,
		}, nil

	case model.MethodTOTP, model.MethodSteam:
		period := effectivePeriod(p)
		counter := TimeCounter(at, period)

		pin, err := hotpCode(secret, counter, p)
		if err != nil {
			return model.OTPResult{}, err
		}

		return model.OTPResult{
			Pin:        pin,
			IssuedAt:   at,
			ValidUntil: time.Unix(int64(counter+1)*int64(period), 0),
			Counter:    counter,
		}, nil

	default:
		return model.OTPResult{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, p.Method)
	}
}

// Verify reports whether code matches the secret within a tolerance window.
// For time-based methods the window is ±skew steps around at; for HOTP it is
// the skew counters following p.Counter (look-ahead resynchronisation).
func Verify(code string, secret model.Secret, p model.OTPParams, at time.Time, skew uint) (bool, error) {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if p.Method == model.MethodSteam {
		// Steam's alphabet is upper-case only.
		code = strings.ToUpper(code)
	}

	if _, err := DecodeSecret(secret); err != nil {
		return false, err
	}
	if err := checkParams(p); err != nil {
		return false, err
	}

	var counters []uint64
	switch p.Method {
	case model.MethodHOTP:
		for i := uint64(0); i <= uint64(skew); i++ {
			counters = append(counters, p.Counter+i)
		}
	case model.MethodTOTP, model.MethodSteam:
		base := TimeCounter(at, effectivePeriod(p))
		for i := -int64(skew); i <= int64(skew); i++ {
			c := int64(base) + i
			if c < 0 {
				continue
			}
			counters = append(counters, uint64(c))
		}
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedMethod, p.Method)
	}

	for _, c := range counters {
		ok, err := hotp.ValidateCustom(code, c, secret.Reveal(), validateOpts(p))
		if errors.Is(err, libotp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		if err != nil {
			return false, mapLibError(err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// TimeCounter returns floor(unix(at) / period) with T0 = 0. Instants before
// the epoch clamp to step zero.
func TimeCounter(at time.Time, period int) uint64 {
	unix := at.Unix()
	if unix < 0 || period <= 0 {
		return 0
	}
	return uint64(unix) / uint64(period)
}

// NormalizeSecret strips the grouping characters people paste along with a
// secret and upper-cases it, as authenticator apps display secrets in groups.
func NormalizeSecret(s string) model.Secret {
	r := strings.NewReplacer(" ", "", "-", "", "\t", "", "\n", "")
	return model.Secret(strings.ToUpper(r.Replace(strings.TrimSpace(s))))
}

// DecodeSecret returns the raw key bytes of a base32 secret. Missing padding
// and lower-case input are tolerated.
func DecodeSecret(secret model.Secret) ([]byte, error) {
	s := strings.TrimRight(strings.ToUpper(strings.TrimSpace(secret.Reveal())), "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	key, err := b32NoPad.DecodeString(s)
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// EncodeSecret base32-encodes raw key bytes without padding.
func EncodeSecret(key []byte) model.Secret {
	return model.Secret(b32NoPad.EncodeToString(key))
}

// GenerateSecret returns a fresh random 160-bit secret.
func GenerateSecret() (model.Secret, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return EncodeSecret(buf), nil
}

// checkParams validates parameters independently of the secret.
func checkParams(p model.OTPParams) error {
	if !p.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, p.Method)
	}
	if p.Method != model.MethodSteam {
		if _, err := libAlgorithm(p.Algorithm); err != nil {
			return err
		}
		if p.Digits != 6 && p.Digits != 8 {
			return ErrInvalidDigits
		}
	}
	if p.Method == model.MethodTOTP && p.Period <= 0 {
		return ErrInvalidPeriod
	}
	return nil
}

func effectivePeriod(p model.OTPParams) int {
	if p.Method == model.MethodSteam && p.Period <= 0 {
		return model.DefaultSteamPeriod
	}
	return p.Period
}

func hotpCode(secret model.Secret, counter uint64, p model.OTPParams) (string, error) {
	pin, err := hotp.GenerateCodeCustom(secret.Reveal(), counter, validateOpts(p))
	if err != nil {
		return "", mapLibError(err)
	}
	return pin, nil
}

// validateOpts maps parameters onto the library options. Steam codes are
// HMAC-SHA1 rendered through the library's Steam encoder.
func validateOpts(p model.OTPParams) hotp.ValidateOpts {
	if p.Method == model.MethodSteam {
		return hotp.ValidateOpts{
			Digits:    libotp.Digits(SteamLength),
			Algorithm: libotp.AlgorithmSHA1,
			Encoder:   libotp.EncoderSteam,
		}
	}

	alg, _ := libAlgorithm(p.Algorithm)
	return hotp.ValidateOpts{
		Digits:    libotp.Digits(p.Digits),
		Algorithm: alg,
	}
}

func libAlgorithm(a model.Algorithm) (libotp.Algorithm, error) {
	switch a {
	case model.AlgorithmSHA1:
		return libotp.AlgorithmSHA1, nil
	case model.AlgorithmSHA256:
		return libotp.AlgorithmSHA256, nil
	case model.AlgorithmSHA512:
		return libotp.AlgorithmSHA512, nil
	default:
		return libotp.AlgorithmSHA1, fmt.Errorf("%w: %q", ErrUnsupportedDigest, a)
	}
}

// mapLibError converts library errors into this package's sentinels so the
// callers never depend on the underlying implementation.
func mapLibError(err error) error {
	if errors.Is(err, libotp.ErrValidateSecretInvalidBase32) {
		return ErrInvalidSecret
	}
	return fmt.Errorf("compute pin: %w", err)
}
