package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/otp"
)

// ErrUnknownBackupFormat is returned for a format name with no codec.
var ErrUnknownBackupFormat = errors.New("unknown backup format")

// ErrMalformedBackup is returned when a backup file cannot be parsed at all.
var ErrMalformedBackup = errors.New("malformed backup")

// Supported backup formats.
const (
	FormatAndOTP  = "andotp"
	FormatFreeOTP = "freeotp"
)

// ImportFailure describes one backup entry that could not be imported.
type ImportFailure struct {
	Index  int    `json:"index"`
	Label  string `json:"label,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport summarises an import run.
type ImportReport struct {
	Imported []model.Account `json:"-"`
	Failed   []ImportFailure `json:"failed"`
}

// accountCreator is the slice of AccountService that backups need.
type accountCreator interface {
	Create(ctx context.Context, in model.NewAccount) (model.Account, error)
	List(ctx context.Context) ([]model.Account, error)
	exportKey(ctx context.Context, id string) (otp.KeyURI, error)
}

// BackupService converts the account list to and from third-party backup
// formats. Exported files contain plaintext secrets.
type BackupService struct {
	accounts accountCreator
	logger   *slog.Logger
}

// NewBackupService creates a BackupService on top of the account aggregate.
func NewBackupService(accounts *AccountService, logger *slog.Logger) *BackupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupService{accounts: accounts, logger: logger}
}

// Formats lists every format Import accepts. Only andOTP and FreeOTP can
// also be exported.
func Formats() []string {
	return []string{FormatAndOTP, FormatFreeOTP, FormatBitwarden, FormatFreeOTPJSON, FormatLegacy, FormatGoogle}
}

// andOTPEntry mirrors one element of an andOTP plain-text JSON backup.
type andOTPEntry struct {
	Secret        string   `json:"secret"`
	Issuer        string   `json:"issuer"`
	Label         string   `json:"label"`
	Digits        int      `json:"digits"`
	Type          string   `json:"type"`
	Algorithm     string   `json:"algorithm"`
	Thumbnail     *string  `json:"thumbnail"`
	LastUsed      int64    `json:"last_used"`
	UsedFrequency int      `json:"used_frequency"`
	Counter       *uint64  `json:"counter,omitempty"`
	Tags          []string `json:"tags"`
	Period        *int     `json:"period,omitempty"`
}

// Export serialises every account in the requested format. An account whose
// secret cannot be read aborts the export; a partial backup is worse than none.
func (b *BackupService) Export(ctx context.Context, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatAndOTP:
		return b.exportAndOTP(ctx)
	case FormatFreeOTP:
		return b.exportFreeOTP(ctx)
	case FormatBitwarden, FormatFreeOTPJSON, FormatLegacy, FormatGoogle:
		return nil, fmt.Errorf("%w: %q", ErrImportOnlyFormat, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackupFormat, format)
	}
}

func (b *BackupService) exportAndOTP(ctx context.Context) ([]byte, error) {
	accounts, err := b.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]andOTPEntry, 0, len(accounts))
	for _, a := range accounts {
		key, err := b.accounts.exportKey(ctx, a.ID)
		if err != nil {
			return nil, err
		}

		e := andOTPEntry{
			Secret:    key.Secret.Reveal(),
			Issuer:    a.Provider,
			Label:     a.Username,
			Digits:    a.Digits,
			Type:      strings.ToUpper(string(a.Method)),
			Algorithm: strings.ToUpper(string(a.Algorithm)),
			LastUsed:  a.UpdatedAt.UnixMilli(),
			Tags:      []string{},
		}
		if a.Method == model.MethodHOTP {
			counter := a.Counter
			e.Counter = &counter
		} else {
			period := a.Period
			e.Period = &period
		}
		entries = append(entries, e)
	}

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode andotp backup: %w", err)
	}
	return out, nil
}

func (b *BackupService) exportFreeOTP(ctx context.Context) ([]byte, error) {
	accounts, err := b.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, a := range accounts {
		key, err := b.accounts.exportKey(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(key.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Import creates an account for every entry in data. Entries that fail are
// recorded in the report and skipped; only an unreadable file is an error.
func (b *BackupService) Import(ctx context.Context, format string, data []byte) (ImportReport, error) {
	var (
		inputs []importInput
		err    error
	)

	switch strings.ToLower(format) {
	case FormatAndOTP:
		inputs, err = parseAndOTP(data)
	case FormatFreeOTP:
		inputs, err = parseFreeOTP(data)
	case FormatBitwarden:
		inputs, err = parseBitwarden(data)
	case FormatFreeOTPJSON:
		inputs, err = parseFreeOTPJSON(data)
	case FormatLegacy:
		inputs, err = parseLegacy(data)
	case FormatGoogle:
		inputs, err = parseGoogleMigration(data)
	default:
		return ImportReport{}, fmt.Errorf("%w: %q", ErrUnknownBackupFormat, format)
	}
	if err != nil {
		return ImportReport{}, err
	}

	report := ImportReport{
		Imported: []model.Account{},
		Failed:   []ImportFailure{},
	}

	for _, in := range inputs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if in.err != nil {
			report.Failed = append(report.Failed, ImportFailure{Index: in.index, Label: in.label, Reason: in.err.Error()})
			continue
		}

		created, err := b.accounts.Create(ctx, in.account)
		if err != nil {
			report.Failed = append(report.Failed, ImportFailure{Index: in.index, Label: in.label, Reason: importReason(err)})
			continue
		}
		report.Imported = append(report.Imported, created)
	}

	b.logger.Info("backup imported",
		"format", format,
		"imported", len(report.Imported),
		"failed", len(report.Failed),
	)

	return report, nil
}

type importInput struct {
	index   int
	label   string
	account model.NewAccount
	err     error
}

func parseAndOTP(data []byte) ([]importInput, error) {
	var entries []andOTPEntry
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

		in.account = model.NewAccount{
			Username:  e.Label,
			Provider:  e.Issuer,
			Method:    method,
			Algorithm: model.ParseAlgorithm(e.Algorithm),
			Digits:    e.Digits,
			Secret:    model.Secret(e.Secret),
		}
		if e.Period != nil {
			in.account.Period = *e.Period
		}
		if e.Counter != nil {
			in.account.Counter = *e.Counter
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func parseFreeOTP(data []byte) ([]importInput, error) {
	lines, err := scanLines(data)
	if err != nil {
		return nil, err
	}

	inputs := make([]importInput, 0, len(lines))
	for i, line := range lines {
		in := importInput{index: i}

		key, err := otp.ParseURI(line)
		if err != nil {
			in.err = err
			inputs = append(inputs, in)
			continue
		}
		in.label = key.Label
		in.account = NewAccountFromURI(key)
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// importReason keeps secret-bearing detail out of the report.
func importReason(err error) string {
	var ve model.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, otp.ErrInvalidSecret):
		return "invalid secret"
	default:
		return PinErrorMessage(err)
	}
}
