package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// ErrSecretNotFound is returned by SecretStore.Get when no secret is stored
// for the account. Callers surface it as "cannot generate code".
var ErrSecretNotFound = errors.New("secret not found")

// ErrEncryptionKeyNotSet is returned by the encrypted SQLite secret backend
// when AUTHENTICATOR_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set AUTHENTICATOR_SECRET_KEY")

// ErrSecretStoreUnavailable is wrapped by backend failures such as a locked
// or unresponsive keyring daemon.
var ErrSecretStoreUnavailable = errors.New("secret store unavailable")

// SecretStore defines the driven port for shared-secret storage keyed by
// account ID. Implementations must never include secret values in errors or
// logs, and may be slow (cross-process IPC), so callers must not hold locks
// spanning more than one account while waiting.
type SecretStore interface {
	// Put stores the secret, replacing any existing entry for id.
	Put(ctx context.Context, id string, secret model.Secret) error

	// Get returns the secret or ErrSecretNotFound.
	Get(ctx context.Context, id string) (model.Secret, error)

	// Delete erases the secret. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error
}
