package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// StructValidator validates account metadata before it is written.
type StructValidator interface {
	Validate(data any) error
}

// AccountRepo is the SQLite implementation of the AccountStore port interface.
type AccountRepo struct {
	db       *DB
	validate StructValidator
	now      func() time.Time
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB, v StructValidator) *AccountRepo {
	return &AccountRepo{db: db, validate: v, now: time.Now}
}

const accountColumns = `id, username, provider, method, algorithm, digits, period, counter, position, created_at, updated_at`

// Create validates and inserts a new account at the end of the list.
func (r *AccountRepo) Create(ctx context.Context, account model.Account) (model.Account, error) {
	if err := r.check(account); err != nil {
		return model.Account{}, err
	}
	if account.Counter > math.MaxInt64 {
		return model.Account{}, fmt.Errorf("%w: %w", driven.ErrValidationFailed,
			model.ValidationError{"counter": "counter is too large"})
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Account{}, fmt.Errorf("generate account id: %w", err)
	}
	account.ID = id.String()

	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM accounts), ?, ?)
		RETURNING position`

	err = r.db.Writer.QueryRowContext(ctx, query,
		account.ID, account.Username, account.Provider,
		string(account.Method), string(account.Algorithm),
		account.Digits, account.Period, int64(account.Counter),
		formatTime(account.CreatedAt), formatTime(account.UpdatedAt),
	).Scan(&account.Position)
	if err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}

	return account, nil
}

// Get returns the account with the given ID or driven.ErrAccountNotFound.
func (r *AccountRepo) Get(ctx context.Context, id string) (model.Account, error) {
	return r.get(ctx, r.db.Reader, id)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *AccountRepo) get(ctx context.Context, q rowQueryer, id string) (model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	account, err := scanAccount(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, driven.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}

	return account, nil
}

// Update applies patch to the username and provider of an existing account.
func (r *AccountRepo) Update(ctx context.Context, id string, patch model.AccountPatch) (model.Account, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	account, err := r.get(ctx, tx, id)
	if err != nil {
		return model.Account{}, err
	}

	if patch.IsEmpty() {
		return account, nil
	}
	if patch.Username != nil {
		account.Username = *patch.Username
	}
	if patch.Provider != nil {
		account.Provider = *patch.Provider
	}
	if err := r.check(account); err != nil {
		return model.Account{}, err
	}

	account.UpdatedAt = r.now().UTC()

	const query = `UPDATE accounts SET username = ?, provider = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, account.Username, account.Provider, formatTime(account.UpdatedAt), id); err != nil {
		return model.Account{}, fmt.Errorf("update account %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, fmt.Errorf("commit transaction: %w", err)
	}

	return account, nil
}

// Delete removes an account. Returns driven.ErrAccountNotFound if it does not exist.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}

	return requireRow(result, "delete account", id)
}

// List returns all accounts ordered by position, then insertion order.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts ORDER BY position, created_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// SetCounter stores the HOTP counter for an account.
func (r *AccountRepo) SetCounter(ctx context.Context, id string, counter uint64) error {
	if counter > math.MaxInt64 {
		return fmt.Errorf("set counter %s: %w", id, driven.ErrValidationFailed)
	}

	const query = `UPDATE accounts SET counter = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, int64(counter), formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", id, err)
	}

	return requireRow(result, "set counter", id)
}

// Reorder rewrites positions so that ids come first, in the given order.
// Unknown and duplicate ids are skipped; unlisted accounts follow in their
// current order.
func (r *AccountRepo) Reorder(ctx context.Context, ids []string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM accounts ORDER BY position, created_at, id`)
	if err != nil {
		return fmt.Errorf("list account ids: %w", err)
	}

	var current []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan account id: %w", err)
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate account ids: %w", err)
	}

	exists := make(map[string]bool, len(current))
	for _, id := range current {
		exists[id] = true
	}

	order := make([]string, 0, len(current))
	placed := make(map[string]bool, len(current))
	for _, id := range ids {
		if exists[id] && !placed[id] {
			order = append(order, id)
			placed[id] = true
		}
	}
	for _, id := range current {
		if !placed[id] {
			order = append(order, id)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE accounts SET position = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare reorder: %w", err)
	}
	defer stmt.Close()

	for pos, id := range order {
		if _, err := stmt.ExecContext(ctx, pos, id); err != nil {
			return fmt.Errorf("reorder account %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// check runs struct validation and wraps failures in driven.ErrValidationFailed.
func (r *AccountRepo) check(account model.Account) error {
	if r.validate == nil {
		return nil
	}

	err := r.validate.Validate(account)
	if err == nil {
		return nil
	}

	var ve model.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("%w: %w", driven.ErrValidationFailed, ve)
	}
	return fmt.Errorf("validate account: %w", err)
}

func requireRow(result sql.Result, op, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, driven.ErrAccountNotFound)
	}
	return nil
}

func scanAccount(s scanner) (model.Account, error) {
	var (
		a                    model.Account
		method, algorithm    string
		counter              int64
		createdAt, updatedAt string
	)

	err := s.Scan(&a.ID, &a.Username, &a.Provider, &method, &algorithm,
		&a.Digits, &a.Period, &counter, &a.Position, &createdAt, &updatedAt)
	if err != nil {
		return model.Account{}, err
	}

	a.Method = model.Method(method)
	a.Algorithm = model.Algorithm(algorithm)
	a.Counter = uint64(counter)

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse created_at: %w", err)
	}

	a.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return a, nil
}
