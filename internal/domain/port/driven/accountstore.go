package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// Sentinel errors returned by AccountStore implementations.
var (
	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrValidationFailed indicates account metadata was rejected before
	// persistence. Implementations wrap a model.ValidationError alongside it.
	ErrValidationFailed = errors.New("validation failed")
)

// AccountStore defines the driven port for durable account metadata. It never
// sees secret material.
type AccountStore interface {
	// Create validates and persists a new account, assigning its ID, position
	// and timestamps. Returns ErrValidationFailed on bad parameters.
	Create(ctx context.Context, account model.Account) (model.Account, error)

	// Get returns the account or ErrAccountNotFound.
	Get(ctx context.Context, id string) (model.Account, error)

	// Update applies a partial change to username and/or provider.
	// Returns ErrAccountNotFound if id is absent.
	Update(ctx context.Context, id string, patch model.AccountPatch) (model.Account, error)

	// Delete removes the account. Returns ErrAccountNotFound if id is absent.
	Delete(ctx context.Context, id string) error

	// List returns all accounts by position, then insertion order.
	List(ctx context.Context) ([]model.Account, error)

	// SetCounter persists a new HOTP counter. Returns ErrAccountNotFound if id is absent.
	SetCounter(ctx context.Context, id string, counter uint64) error

	// Reorder assigns positions following the order of ids. Unknown ids are
	// ignored; accounts not listed keep their relative order after the listed ones.
	Reorder(ctx context.Context, ids []string) error
}
