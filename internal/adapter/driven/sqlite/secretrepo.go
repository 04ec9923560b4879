package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*SecretRepo)(nil)

// SecretKeySize is the required AES-256 key length in bytes.
const SecretKeySize = 32

// SecretRepo is the encrypted SQLite implementation of the SecretStore port,
// used on hosts without an OS keyring. Values are sealed with AES-256-GCM and
// the account ID is bound as additional data, so a row copied onto another
// account fails to open.
type SecretRepo struct {
	db  *DB
	key []byte // nil when encryption is disabled.
}

// NewSecretRepo creates a new SecretRepo. key must be SecretKeySize bytes, or
// nil to disable the store (all operations return driven.ErrEncryptionKeyNotSet).
func NewSecretRepo(db *DB, key []byte) (*SecretRepo, error) {
	if key != nil && len(key) != SecretKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", SecretKeySize, len(key))
	}
	return &SecretRepo{db: db, key: key}, nil
}

// Put stores or replaces the secret for the account.
func (r *SecretRepo) Put(ctx context.Context, id string, secret model.Secret) error {
	sealed, err := r.seal(id, secret.Reveal())
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO secrets (account_id, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.Writer.ExecContext(ctx, query, id, sealed); err != nil {
		return fmt.Errorf("put secret %s: %w", id, err)
	}
	return nil
}

// Get returns the decrypted secret or driven.ErrSecretNotFound.
func (r *SecretRepo) Get(ctx context.Context, id string) (model.Secret, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT value FROM secrets WHERE account_id = ?`
	var sealed string
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get secret %s: %w", id, driven.ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}

	plaintext, err := r.open(id, sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %s: %w", id, err)
	}
	return model.Secret(plaintext), nil
}

// Delete removes the secret for the account. Missing rows are not an error.
func (r *SecretRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM secrets WHERE account_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete secret %s: %w", id, err)
	}
	return nil
}

func (r *SecretRepo) aead() (cipher.AEAD, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// seal returns base64(nonce || ciphertext || tag).
func (r *SecretRepo) seal(id, plaintext string) (string, error) {
	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	out := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(id))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (r *SecretRepo) open(id, encoded string) (string, error) {
	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
