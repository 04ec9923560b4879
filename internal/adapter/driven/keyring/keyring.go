// Package keyring stores account secrets in the operating system keyring
// (Secret Service, macOS Keychain or Windows Credential Manager).
package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*Store)(nil)

// ErrTimeout is returned when the keyring daemon does not answer in time.
var ErrTimeout = fmt.Errorf("%w: keyring did not respond", driven.ErrSecretStoreUnavailable)

// DefaultTimeout bounds a single keyring call when none is configured.
const DefaultTimeout = 5 * time.Second

// API is the minimal keyring surface the Store needs.
type API interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

// osKeyring forwards to zalando/go-keyring, which honours MockInit in tests.
type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return gokeyring.Get(service, user) }
func (osKeyring) Set(service, user, password string) error { return gokeyring.Set(service, user, password) }
func (osKeyring) Delete(service, user string) error        { return gokeyring.Delete(service, user) }

// Store is the OS keyring implementation of driven.SecretStore. Entries use
// the application ID as service and the account ID as user.
type Store struct {
	service string
	timeout time.Duration
	api     API
}

// Option configures a Store.
type Option func(*Store)

// WithAPI replaces the keyring backend.
func WithAPI(api API) Option {
	return func(s *Store) { s.api = api }
}

// WithTimeout bounds each keyring call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Store for the given application ID.
func New(service string, opts ...Option) *Store {
	s := &Store{
		service: service,
		timeout: DefaultTimeout,
		api:     osKeyring{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores the secret, replacing any existing entry.
func (s *Store) Put(ctx context.Context, id string, secret model.Secret) error {
	_, err := s.call(ctx, func() (string, error) {
		return "", s.api.Set(s.service, id, secret.Reveal())
	})
	if err != nil {
		return fmt.Errorf("store secret %s: %w", id, err)
	}
	return nil
}

// Get returns the secret or driven.ErrSecretNotFound.
func (s *Store) Get(ctx context.Context, id string) (model.Secret, error) {
	v, err := s.call(ctx, func() (string, error) {
		return s.api.Get(s.service, id)
	})
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", fmt.Errorf("get secret %s: %w", id, driven.ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	return model.Secret(v), nil
}

// Delete erases the secret. A missing entry is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.call(ctx, func() (string, error) {
		return "", s.api.Delete(s.service, id)
	})
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("delete secret %s: %w", id, err)
	}
	return nil
}

type result struct {
	value string
	err   error
}

// call runs fn on its own goroutine so a hung keyring daemon cannot block
// the caller past ctx or the store timeout. The goroutine is abandoned on
// timeout; the buffered channel lets it exit once the daemon answers.
func (s *Store) call(ctx context.Context, fn func() (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: sanitize(err)}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}
		return "", ctx.Err()
	}
}

// sanitize keeps sentinel identity but drops backend messages, which on some
// platforms echo the stored payload.
func sanitize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gokeyring.ErrNotFound):
		return gokeyring.ErrNotFound
	case errors.Is(err, gokeyring.ErrSetDataTooBig):
		return gokeyring.ErrSetDataTooBig
	default:
		return fmt.Errorf("%w: keyring backend error (%T)", driven.ErrSecretStoreUnavailable, err)
	}
}
