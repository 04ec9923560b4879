package application

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/otp"
)

// Import-only formats.
const (
	FormatBitwarden   = "bitwarden"
	FormatFreeOTPJSON = "freeotp_json"
	FormatLegacy      = "authenticator_legacy"
	FormatGoogle      = "google"
)

// ErrImportOnlyFormat is returned by Export for formats that can only be restored.
var ErrImportOnlyFormat = errors.New("backup format is import-only")

// maxBackupLine bounds a single line of a line-oriented backup.
const maxBackupLine = 1 << 20

const (
	unknownAccount = "Unknown account"
	unknownIssuer  = "Unknown issuer"
	legacyIssuer   = "Default"
)

// scanLines splits data into trimmed, non-empty, non-comment lines. A line
// longer than maxBackupLine makes the whole file malformed.
func scanLines(data []byte) ([]string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxBackupLine)

	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	return lines, nil
}

// --- Bitwarden ---

type bitwardenExport struct {
	Items []bitwardenItem `json:"items"`
}

type bitwardenItem struct {
	Name  *string         `json:"name"`
	Login *bitwardenLogin `json:"login"`
}

type bitwardenLogin struct {
	Username *string `json:"username"`
	TOTP     *string `json:"totp"`
}

// parseBitwarden reads an unencrypted Bitwarden JSON export. Items without a
// TOTP field are not authenticator entries and are skipped silently.
func parseBitwarden(data []byte) ([]importInput, error) {
	var root bitwardenExport
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	var inputs []importInput
	for _, item := range root.Items {
		if item.Login == nil || item.Login.TOTP == nil || strings.TrimSpace(*item.Login.TOTP) == "" {
			continue
		}

		username := unknownAccount
		if item.Login.Username != nil && strings.TrimSpace(*item.Login.Username) != "" {
			username = *item.Login.Username
		}
		issuer := ""
		if item.Name != nil {
			issuer = strings.TrimSpace(*item.Name)
		}

		in := importInput{index: len(inputs), label: username}
		totp := strings.TrimSpace(*item.Login.TOTP)

		switch {
		case strings.HasPrefix(totp, "otpauth://"):
			key, err := otp.ParseURI(totp)
			if err != nil {
				in.err = err
				break
			}
			in.account = NewAccountFromURI(key)
			if username != unknownAccount || in.account.Username == "" {
				in.account.Username = username
			}
			in.label = in.account.Username
			if issuer != "" {
				in.account.Provider = issuer
			}

		case strings.HasPrefix(strings.ToLower(totp), "steam://"):
			in.account = model.NewAccount{
				Username: username,
				Provider: issuer,
				Method:   model.MethodSteam,
				Secret:   model.Secret(totp[len("steam://"):]),
			}

		default:
			in.account = model.NewAccount{
				Username: username,
				Provider: issuer,
				Method:   model.MethodTOTP,
				Secret:   model.Secret(totp),
			}
		}
		if in.err == nil && in.account.Provider == "" {
			in.account.Provider = unknownIssuer
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// --- FreeOTP+ ---

type freeOTPJSONExport struct {
	Tokens []freeOTPJSONToken `json:"tokens"`
}

type freeOTPJSONToken struct {
	Algo    string  `json:"algo"`
	Counter *uint64 `json:"counter"`
	Digits  *int    `json:"digits"`
	Label   string  `json:"label"`
	Issuer  string  `json:"issuerExt"`
	Period  *int    `json:"period"`
	Secret  []int16 `json:"secret"`
	Type    string  `json:"type"`
}

// parseFreeOTPJSON reads a FreeOTP+ JSON export. Secrets are stored as signed
// byte arrays.
func parseFreeOTPJSON(data []byte) ([]importInput, error) {
	var root freeOTPJSONExport
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	inputs := make([]importInput, 0, len(root.Tokens))
	for i, tok := range root.Tokens {
		in := importInput{index: i, label: tok.Label}

		method, err := model.ParseMethod(tok.Type)
		if err != nil {
			in.err = err
			inputs = append(inputs, in)
			continue
		}

		key := make([]byte, len(tok.Secret))
		for j, b := range tok.Secret {
			key[j] = byte(b & 0xff)
		}

		in.account = model.NewAccount{
			Username:  tok.Label,
			Provider:  tok.Issuer,
			Method:    method,
			Algorithm: model.ParseAlgorithm(tok.Algo),
			Secret:    otp.EncodeSecret(key),
		}
		if tok.Digits != nil {
			in.account.Digits = *tok.Digits
		}
		if tok.Period != nil {
			in.account.Period = *tok.Period
		}
		if tok.Counter != nil {
			in.account.Counter = *tok.Counter
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// --- Legacy Authenticator ---

type legacyEntry struct {
	Secret    string   `json:"secret"`
	Label     string   `json:"label"`
	Digits    int      `json:"digits"`
	Type      string   `json:"type"`
	Algorithm string   `json:"algorithm"`
	Tags      []string `json:"tags"`
	Period    int      `json:"period"`
}

// parseLegacy reads the JSON backup of Authenticator releases before 4.0.
// The provider was kept as the first tag.
func parseLegacy(data []byte) ([]importInput, error) {
	var entries []legacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	inputs := make([]importInput, 0, len(entries))
	for i, e := range entries {
		in := importInput{index: i, label: e.Label}

		method, err := model.ParseMethod(e.Type)
		if err != nil {
			in.err = err
			inputs = append(inputs, in)
			continue
		}

		issuer := legacyIssuer
		if len(e.Tags) > 0 && strings.TrimSpace(e.Tags[0]) != "" {
			issuer = e.Tags[0]
		}

		in.account = model.NewAccount{
			Username:  e.Label,
			Provider:  issuer,
			Method:    method,
			Algorithm: model.ParseAlgorithm(e.Algorithm),
			Digits:    e.Digits,
			Period:    e.Period,
			Secret:    model.Secret(e.Secret),
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// --- Google Authenticator migration ---

// Field numbers of Google Authenticator's MigrationPayload message.
const (
	migrationFieldOTPParameters protowire.Number = 1

	otpFieldSecret    protowire.Number = 1
	otpFieldName      protowire.Number = 2
	otpFieldIssuer    protowire.Number = 3
	otpFieldAlgorithm protowire.Number = 4
	otpFieldDigits    protowire.Number = 5
	otpFieldType      protowire.Number = 6
	otpFieldCounter   protowire.Number = 7
)

type migrationParams struct {
	secret    []byte
	name      string
	issuer    string
	algorithm uint64
	digits    uint64
	otpType   uint64
	counter   uint64
}

func (p migrationParams) equal(o migrationParams) bool {
	return bytes.Equal(p.secret, o.secret) && p.name == o.name && p.issuer == o.issuer &&
		p.algorithm == o.algorithm && p.digits == o.digits && p.otpType == o.otpType && p.counter == o.counter
}

// parseGoogleMigration reads one or more otpauth-migration://offline URIs,
// one per line, as produced by Google Authenticator's export QR codes.
// Duplicate entries across batches are imported once.
func parseGoogleMigration(data []byte) ([]importInput, error) {
	lines, err := scanLines(data)
	if err != nil {
		return nil, err
	}

	var all []migrationParams
	for _, line := range lines {
		params, err := decodeMigrationURI(line)
		if err != nil {
			return nil, err
		}
	next:
		for _, p := range params {
			for _, seen := range all {
				if seen.equal(p) {
					continue next
				}
			}
			all = append(all, p)
		}
	}

	inputs := make([]importInput, 0, len(all))
	for i, p := range all {
		in := importInput{index: i, label: p.name}
		in.account, in.err = p.newAccount()
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func decodeMigrationURI(raw string) ([]migrationParams, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "otpauth-migration" || u.Host != "offline" {
		return nil, fmt.Errorf("%w: expected an otpauth-migration://offline uri", ErrMalformedBackup)
	}

	// Some scanners hand back the payload without escaping '+'.
	data := strings.ReplaceAll(u.Query().Get("data"), " ", "+")
	if data == "" {
		return nil, fmt.Errorf("%w: migration uri has no data", ErrMalformedBackup)
	}

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		payload, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: migration data is not base64", ErrMalformedBackup)
	}

	params, err := decodeMigrationPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	return params, nil
}

func decodeMigrationPayload(b []byte) ([]migrationParams, error) {
	var out []migrationParams
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		if num == migrationFieldOTPParameters && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			p, err := decodeOTPParameters(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return out, nil
}

func decodeOTPParameters(b []byte) (migrationParams, error) {
	var p migrationParams
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == otpFieldSecret || num == otpFieldName || num == otpFieldIssuer):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			switch num {
			case otpFieldSecret:
				p.secret = bytes.Clone(v)
			case otpFieldName:
				p.name = string(v)
			case otpFieldIssuer:
				p.issuer = string(v)
			}
			b = b[n:]

		case typ == protowire.VarintType && num >= otpFieldAlgorithm && num <= otpFieldCounter:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			switch num {
			case otpFieldAlgorithm:
				p.algorithm = v
			case otpFieldDigits:
				p.digits = v
			case otpFieldType:
				p.otpType = v
			case otpFieldCounter:
				p.counter = v
			}
			b = b[n:]

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// newAccount maps the migration enums. Zero values mean "unspecified" and
// fall through to the usual defaults.
func (p migrationParams) newAccount() (model.NewAccount, error) {
	in := model.NewAccount{
		Username: p.name,
		Provider: p.issuer,
		Secret:   otp.EncodeSecret(p.secret),
	}

	// Names are often exported as "Issuer:account".
	if issuer, account, ok := strings.Cut(p.name, ":"); ok {
		switch {
		case p.issuer == "":
			in.Provider, in.Username = strings.TrimSpace(issuer), strings.TrimSpace(account)
		case strings.EqualFold(strings.TrimSpace(issuer), p.issuer):
			in.Username = strings.TrimSpace(account)
		}
	}

	switch p.otpType {
	case 1:
		in.Method = model.MethodHOTP
		in.Counter = p.counter
	case 0, 2:
		in.Method = model.MethodTOTP
	default:
		return in, fmt.Errorf("unsupported otp type %d", p.otpType)
	}

	switch p.algorithm {
	case 0, 1:
		in.Algorithm = model.AlgorithmSHA1
	case 2:
		in.Algorithm = model.AlgorithmSHA256
	case 3:
		in.Algorithm = model.AlgorithmSHA512
	default:
		return in, fmt.Errorf("unsupported algorithm %d", p.algorithm)
	}

	switch p.digits {
	case 0:
	case 1:
		in.Digits = 6
	case 2:
		in.Digits = 8
	default:
		return in, fmt.Errorf("unsupported digit count %d", p.digits)
	}

	if len(p.secret) == 0 {
		return in, otp.ErrInvalidSecret
	}
	return in, nil
}
