package otp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	libotp "github.com/pquerna/otp"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// ErrInvalidURI indicates a string that is not a usable otpauth:// URI.
var ErrInvalidURI = errors.New("invalid otpauth uri")

// defaultIssuer is used when a URI carries neither an issuer parameter nor an
// "Issuer:" label prefix.
const defaultIssuer = "Default"

// KeyURI is the decoded form of an otpauth:// provisioning URI.
type KeyURI struct {
	Method    model.Method
	Algorithm model.Algorithm
	Digits    int
	Period    int
	Counter   uint64
	Issuer    string
	Label     string
	Secret    model.Secret
}

// Params returns the algorithm parameters carried by the URI.
func (k KeyURI) Params() model.OTPParams {
	return model.OTPParams{
		Method:    k.Method,
		Algorithm: k.Algorithm,
		Digits:    k.Digits,
		Period:    k.Period,
		Counter:   k.Counter,
	}
}

// ParseURI decodes an otpauth URI. The label may be "Issuer:Account" or just
// "Account"; an explicit issuer query parameter wins over the label prefix.
func ParseURI(raw string) (KeyURI, error) {
	// Parse errors quote the whole input, secret included, so their text is dropped.
	key, err := libotp.NewKeyFromURL(strings.TrimSpace(raw))
	if err != nil {
		return KeyURI{}, fmt.Errorf("%w: malformed uri", ErrInvalidURI)
	}

	u, err := url.Parse(key.URL())
	if err != nil {
		return KeyURI{}, fmt.Errorf("%w: malformed uri", ErrInvalidURI)
	}
	if !strings.EqualFold(u.Scheme, "otpauth") {
		return KeyURI{}, fmt.Errorf("%w: scheme must be otpauth", ErrInvalidURI)
	}

	method, err := model.ParseMethod(key.Type())
	if err != nil {
		return KeyURI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	secret := NormalizeSecret(key.Secret())
	if secret.IsEmpty() {
		return KeyURI{}, fmt.Errorf("%w: missing secret", ErrInvalidURI)
	}

	q := u.Query()
	out := KeyURI{
		Method:    method,
		Algorithm: model.AlgorithmSHA1,
		Digits:    model.DefaultDigits,
		Period:    model.DefaultPeriod,
		Counter:   model.DefaultCounter,
		Secret:    secret,
	}
	out.Issuer, out.Label = splitLabel(u)
	if out.Issuer == "" {
		out.Issuer = defaultIssuer
	}
	if method == model.MethodSteam {
		out.Digits = model.SteamDigits
	}

	if v := q.Get("algorithm"); v != "" {
		out.Algorithm = model.ParseAlgorithm(v)
	}
	if v := q.Get("digits"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return KeyURI{}, fmt.Errorf("%w: digits %q", ErrInvalidURI, v)
		}
		out.Digits = n
	}
	if v := q.Get("period"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return KeyURI{}, fmt.Errorf("%w: period %q", ErrInvalidURI, v)
		}
		out.Period = n
	}
	if v := q.Get("counter"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return KeyURI{}, fmt.Errorf("%w: counter %q", ErrInvalidURI, v)
		}
		out.Counter = n
	}

	return out, nil
}

// splitLabel separates "Issuer:Account" on the first literal colon of the
// escaped path, so an escaped colon stays inside its segment. An escaped
// separator is accepted only when it matches the issuer parameter. The
// issuer parameter wins over the label prefix.
func splitLabel(u *url.URL) (issuer, account string) {
	issuerParam := u.Query().Get("issuer")
	p := strings.TrimPrefix(u.EscapedPath(), "/")

	prefix, rest, ok := strings.Cut(p, ":")
	if !ok && issuerParam != "" {
		if i := strings.Index(strings.ToUpper(p), "%3A"); i >= 0 && unescapeSegment(p[:i]) == issuerParam {
			prefix, rest, ok = p[:i], p[i+3:], true
		}
	}
	if !ok {
		return issuerParam, unescapeSegment(p)
	}

	issuer = unescapeSegment(prefix)
	if issuerParam != "" {
		issuer = issuerParam
	}
	return issuer, strings.TrimSpace(unescapeSegment(rest))
}

func unescapeSegment(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

// escapeSegment path-escapes one label segment, including colons.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}

// String formats the URI. Time-based methods carry period, HOTP carries counter.
func (k KeyURI) String() string {
	label := escapeSegment(k.Label)
	if k.Issuer != "" {
		label = escapeSegment(k.Issuer) + ":" + label
	}

	q := url.Values{}
	q.Set("secret", k.Secret.Reveal())
	if k.Issuer != "" {
		q.Set("issuer", k.Issuer)
	}
	q.Set("algorithm", strings.ToUpper(string(k.Algorithm)))
	q.Set("digits", strconv.Itoa(k.Digits))
	if k.Method == model.MethodHOTP {
		q.Set("counter", strconv.FormatUint(k.Counter, 10))
	} else {
		q.Set("period", strconv.Itoa(k.Period))
	}

	return fmt.Sprintf("otpauth://%s/%s?%s", k.Method, label, q.Encode())
}

// URIFromAccount assembles the export URI for an account and its secret.
func URIFromAccount(a model.Account, secret model.Secret) KeyURI {
	return KeyURI{
		Method:    a.Method,
		Algorithm: a.Algorithm,
		Digits:    a.Digits,
		Period:    a.Period,
		Counter:   a.Counter,
		Issuer:    a.Provider,
		Label:     a.Username,
		Secret:    secret,
	}
}
