package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/otp"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// ErrNotCounterBased is returned by NextHOTP for time-based accounts.
var ErrNotCounterBased = errors.New("account is not counter-based")

// ErrQRUnavailable is returned by QRCode when no renderer is configured.
var ErrQRUnavailable = errors.New("qr code rendering not configured")

// verifySkew is the tolerance of VerifyPin: one step either side for
// time-based methods, one counter of look-ahead for HOTP.
const verifySkew = 1

// Tracker is the refresh-scheduler surface the aggregate drives.
type Tracker interface {
	Track(account model.Account)
	Untrack(id string)
}

// AccountService is the account aggregate. It composes the metadata store,
// the secret store and the provider catalog, keeps the refresh scheduler in
// step with account lifecycle, and serialises mutations per account ID.
type AccountService struct {
	store   driven.AccountStore
	secrets driven.SecretStore
	catalog driven.ProviderCatalog
	qr      driven.QRRenderer
	tracker Tracker
	events  PinPublisher
	locks   *keyedMutex
	now     func() time.Time
	logger  *slog.Logger
}

// NewAccountService creates an AccountService. qr may be nil, in which case
// QRCode returns ErrQRUnavailable.
func NewAccountService(
	store driven.AccountStore,
	secrets driven.SecretStore,
	catalog driven.ProviderCatalog,
	qr driven.QRRenderer,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:   store,
		secrets: secrets,
		catalog: catalog,
		qr:      qr,
		tracker: nopTracker{},
		events:  nopPublisher{},
		locks:   newKeyedMutex(),
		now:     time.Now,
		logger:  logger,
	}
}

// SetTracker attaches the refresh scheduler. It must be called before the
// service is shared between goroutines.
func (s *AccountService) SetTracker(t Tracker) {
	if t == nil {
		t = nopTracker{}
	}
	s.tracker = t
}

// SetPublisher attaches the sink for pin events raised by explicit user
// actions on counter-based accounts. Like SetTracker it must be called before
// the service is shared.
func (s *AccountService) SetPublisher(p PinPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.events = p
}

// SetClock overrides the time source used for pin computation.
func (s *AccountService) SetClock(now func() time.Time) {
	s.now = now
}

// TrackAll hands every stored account to the scheduler. Called once at startup.
func (s *AccountService) TrackAll(ctx context.Context) error {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		s.tracker.Track(a)
	}
	return nil
}

// Create adds an account. The secret is normalised and must decode; empty
// algorithm fields are filled from the provider catalog and then from
// defaults. If the secret cannot be stored the metadata row is rolled back.
func (s *AccountService) Create(ctx context.Context, in model.NewAccount) (model.Account, error) {
	secret := otp.NormalizeSecret(in.Secret.Reveal())
	if _, err := otp.DecodeSecret(secret); err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}

	account := s.applyDefaults(in)

	created, err := s.store.Create(ctx, account)
	if err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}

	unlock := s.locks.Lock(created.ID)
	defer unlock()

	if err := s.secrets.Put(ctx, created.ID, secret); err != nil {
		if rbErr := s.store.Delete(ctx, created.ID); rbErr != nil {
			s.logger.Error("rollback of account without secret failed",
				"account_id", created.ID,
				"error", rbErr,
			)
		}
		return model.Account{}, fmt.Errorf("store secret: %w", err)
	}

	s.tracker.Track(created)
	if created.Method == model.MethodHOTP {
		s.publishHOTP(created, secret)
	}

	s.logger.Info("account created",
		"account_id", created.ID,
		"provider", created.Provider,
		"method", created.Method,
	)

	return created, nil
}

// CreateWithGeneratedSecret creates an account around a fresh random secret.
// Any secret in the input is ignored. The secret can be read back with
// ExportURI to enrol it with the service.
func (s *AccountService) CreateWithGeneratedSecret(ctx context.Context, in model.NewAccount) (model.Account, error) {
	secret, err := otp.GenerateSecret()
	if err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}
	in.Secret = secret
	return s.Create(ctx, in)
}

// applyDefaults resolves the provider against the catalog and fills every
// zero-valued parameter.
func (s *AccountService) applyDefaults(in model.NewAccount) model.Account {
	provider := strings.TrimSpace(in.Provider)
	hint := s.catalog.Lookup(provider)
	if hint.Known {
		provider = hint.Name
	}

	a := model.Account{
		Username:  strings.TrimSpace(in.Username),
		Provider:  provider,
		Method:    in.Method,
		Algorithm: in.Algorithm,
		Digits:    in.Digits,
		Period:    in.Period,
		Counter:   in.Counter,
	}

	if a.Method == "" {
		a.Method = hint.Method
	}
	if a.Method == "" {
		a.Method = model.MethodTOTP
	}

	if a.Method == model.MethodSteam {
		a.Algorithm = model.AlgorithmSHA1
		if a.Digits == 0 {
			a.Digits = model.SteamDigits
		}
		if a.Period == 0 {
			a.Period = model.DefaultSteamPeriod
		}
		return a
	}

	if a.Algorithm == "" {
		a.Algorithm = hint.Algorithm
	}
	if a.Algorithm == "" {
		a.Algorithm = model.AlgorithmSHA1
	}
	if a.Digits == 0 {
		a.Digits = hint.Digits
	}
	if a.Digits == 0 {
		a.Digits = model.DefaultDigits
	}
	if a.Period == 0 {
		a.Period = hint.Period
	}
	if a.Period == 0 {
		a.Period = model.DefaultPeriod
	}
	if a.Counter == 0 && a.Method == model.MethodHOTP {
		a.Counter = hint.DefaultCounter
	}

	return a
}

// Update renames an account. Algorithm parameters are immutable.
func (s *AccountService) Update(ctx context.Context, id string, patch model.AccountPatch) (model.Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if patch.Username != nil {
		v := strings.TrimSpace(*patch.Username)
		patch.Username = &v
	}
	if patch.Provider != nil {
		v := strings.TrimSpace(*patch.Provider)
		if hint := s.catalog.Lookup(v); hint.Known {
			v = hint.Name
		}
		patch.Provider = &v
	}

	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return model.Account{}, fmt.Errorf("update account: %w", err)
	}
	return updated, nil
}

// Delete removes an account and erases its secret. Deleting an unknown ID is
// not an error. A secret that cannot be erased is logged and left behind
// rather than failing the delete, since the metadata is already gone.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, driven.ErrAccountNotFound) {
		return fmt.Errorf("delete account: %w", err)
	}

	s.tracker.Untrack(id)

	if err := s.secrets.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to erase secret for deleted account",
			"account_id", id,
			"error", err,
		)
	}

	s.logger.Info("account deleted", "account_id", id)
	return nil
}

// Get returns one account.
func (s *AccountService) Get(ctx context.Context, id string) (model.Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// List returns all accounts in display order.
func (s *AccountService) List(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Reorder sets the display order.
func (s *AccountService) Reorder(ctx context.Context, ids []string) error {
	if err := s.store.Reorder(ctx, ids); err != nil {
		return fmt.Errorf("reorder accounts: %w", err)
	}
	return nil
}

// CurrentPin fetches the account and its secret, then computes the pin. No
// lock is held while the secret store is consulted.
func (s *AccountService) CurrentPin(ctx context.Context, id string) (model.OTPResult, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("current pin: %w", err)
	}
	return s.compute(ctx, account)
}

func (s *AccountService) compute(ctx context.Context, account model.Account) (model.OTPResult, error) {
	secret, err := s.secrets.Get(ctx, account.ID)
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("current pin: %w", err)
	}

	res, err := otp.Compute(secret, account.Params(), s.now())
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("current pin: %w", err)
	}
	return res, nil
}

// Views lists every account with its current pin. Accounts whose pin cannot
// be computed are returned degraded instead of failing the whole list.
func (s *AccountService) Views(ctx context.Context) ([]model.AccountView, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	views := make([]model.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, s.view(ctx, a))
	}
	return views, nil
}

// View returns a single account with its current pin.
func (s *AccountService) View(ctx context.Context, id string) (model.AccountView, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return model.AccountView{}, fmt.Errorf("get account: %w", err)
	}
	return s.view(ctx, a), nil
}

func (s *AccountService) view(ctx context.Context, a model.Account) model.AccountView {
	res, err := s.compute(ctx, a)
	if err != nil {
		s.logger.Warn("pin unavailable", "account_id", a.ID, "error", err)
		return model.AccountView{
			Account: a,
			State:   model.PinStateDegraded,
			Error:   PinErrorMessage(err),
		}
	}
	return model.AccountView{Account: a, Result: res, State: model.PinStateOK}
}

// NextHOTP advances a counter-based account and returns the pin for the new
// counter. The counter is persisted before the pin is revealed so a crash can
// never show the same pin twice.
func (s *AccountService) NextHOTP(ctx context.Context, id string) (model.OTPResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("next hotp: %w", err)
	}
	if account.Method != model.MethodHOTP {
		return model.OTPResult{}, fmt.Errorf("next hotp %s: %w", id, ErrNotCounterBased)
	}

	secret, err := s.secrets.Get(ctx, id)
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("next hotp: %w", err)
	}

	account.Counter++
	if err := s.store.SetCounter(ctx, id, account.Counter); err != nil {
		return model.OTPResult{}, fmt.Errorf("next hotp: %w", err)
	}

	res, err := otp.Compute(secret, account.Params(), s.now())
	if err != nil {
		return model.OTPResult{}, fmt.Errorf("next hotp: %w", err)
	}

	s.events.Publish(model.PinEvent{
		AccountID: id,
		Pin:       res.Pin,
		Counter:   res.Counter,
		State:     model.PinStateOK,
		EmittedAt: res.IssuedAt,
	})
	return res, nil
}

// publishHOTP announces the pin of a freshly created counter-based account,
// which the refresh scheduler never ticks.
func (s *AccountService) publishHOTP(account model.Account, secret model.Secret) {
	res, err := otp.Compute(secret, account.Params(), s.now())
	if err != nil {
		s.events.Publish(model.PinEvent{
			AccountID: account.ID,
			State:     model.PinStateDegraded,
			Error:     PinErrorMessage(err),
			EmittedAt: s.now(),
		})
		return
	}
	s.events.Publish(model.PinEvent{
		AccountID: account.ID,
		Pin:       res.Pin,
		Counter:   res.Counter,
		State:     model.PinStateOK,
		EmittedAt: res.IssuedAt,
	})
}

// VerifyPin reports whether code is currently accepted for the account. It
// never advances an HOTP counter.
func (s *AccountService) VerifyPin(ctx context.Context, id, code string) (bool, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("verify pin: %w", err)
	}

	secret, err := s.secrets.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("verify pin: %w", err)
	}

	ok, err := otp.Verify(code, secret, account.Params(), s.now(), verifySkew)
	if err != nil {
		return false, fmt.Errorf("verify pin: %w", err)
	}
	return ok, nil
}

// ExportURI renders the account as an otpauth URI, secret included.
func (s *AccountService) ExportURI(ctx context.Context, id string) (string, error) {
	key, err := s.exportKey(ctx, id)
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

func (s *AccountService) exportKey(ctx context.Context, id string) (otp.KeyURI, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return otp.KeyURI{}, fmt.Errorf("export account: %w", err)
	}
	secret, err := s.secrets.Get(ctx, id)
	if err != nil {
		return otp.KeyURI{}, fmt.Errorf("export account: %w", err)
	}
	return otp.URIFromAccount(account, secret), nil
}

// ImportURI creates an account from an otpauth URI.
func (s *AccountService) ImportURI(ctx context.Context, raw string) (model.Account, error) {
	key, err := otp.ParseURI(raw)
	if err != nil {
		return model.Account{}, err
	}
	return s.Create(ctx, NewAccountFromURI(key))
}

// QRCode renders the account's otpauth URI as a PNG.
func (s *AccountService) QRCode(ctx context.Context, id string, size int) ([]byte, error) {
	if s.qr == nil {
		return nil, ErrQRUnavailable
	}

	uri, err := s.ExportURI(ctx, id)
	if err != nil {
		return nil, err
	}

	png, err := s.qr.PNG(uri, size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}

// Catalog exposes the provider catalog for auto-completion.
func (s *AccountService) Catalog() driven.ProviderCatalog {
	return s.catalog
}

// NewAccountFromURI maps a decoded otpauth URI onto creation input.
func NewAccountFromURI(k otp.KeyURI) model.NewAccount {
	return model.NewAccount{
		Username:  k.Label,
		Provider:  k.Issuer,
		Method:    k.Method,
		Algorithm: k.Algorithm,
		Digits:    k.Digits,
		Period:    k.Period,
		Counter:   k.Counter,
		Secret:    k.Secret,
	}
}

// PinErrorMessage turns a pin failure into a message safe to show a user.
// Secret-store and engine errors never carry secret material, but their text
// is still replaced by a fixed phrase.
func PinErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, driven.ErrSecretNotFound):
		return "secret missing from secret store"
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		return "secret store is locked"
	case errors.Is(err, otp.ErrInvalidSecret):
		return "stored secret is invalid"
	case errors.Is(err, otp.ErrUnsupportedDigest), errors.Is(err, otp.ErrInvalidDigits),
		errors.Is(err, otp.ErrInvalidPeriod), errors.Is(err, otp.ErrUnsupportedMethod):
		return "account parameters are not supported"
	case errors.Is(err, driven.ErrAccountNotFound):
		return "account no longer exists"
	case errors.Is(err, driven.ErrSecretStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "secret store did not respond"
	default:
		return "cannot generate code"
	}
}

type nopTracker struct{}

type nopPublisher struct{}

func (nopPublisher) Publish(model.PinEvent) {}

func (nopTracker) Track(model.Account) {}
func (nopTracker) Untrack(string)      {}

// keyedMutex provides one mutex per key, created on demand and released when
// no goroutine holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
