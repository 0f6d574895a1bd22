// Package vault stores per-user secrets encrypted under a process-wide master
// key. The key material is derived with PBKDF2-SHA256 (fixed salt, 100k
// iterations) and used with AES-256-GCM. Ciphertexts are self-delimiting and
// version-tagged so the scheme can evolve without a migration flag day.
//
// The vault is read-only after initialization except for explicit credential
// upserts and master-key rotation, which re-encrypts every stored credential
// and swaps the cipher atomically.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"signalbridge/internal/model"
)

const (
	kdfSalt       = "trading-platform-salt"
	kdfIterations = 100_000
	keyLen        = 32
	versionTag    = "v1"
)

// ErrCrypto wraps any encrypt/decrypt failure. Fatal to the operation only.
var ErrCrypto = errors.New("vault: crypto failure")

// Store is the persistence surface the vault needs. Implemented by
// *store.Store.
type Store interface {
	UpsertCredential(ctx context.Context, cred model.Credential) (uuid.UUID, error)
	CredentialsForBroker(ctx context.Context, userID, brokerID uuid.UUID) ([]model.Credential, error)
	AllCredentials(ctx context.Context) ([]model.Credential, error)
	ReplaceCredentialCiphertexts(ctx context.Context, updates map[uuid.UUID]string) error
	DeleteCredential(ctx context.Context, userID, id uuid.UUID) error
}

// Cipher is the symmetric AEAD derived from one master key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256-GCM cipher from the master key.
// The key must be at least 32 characters.
func NewCipher(masterKey string) (*Cipher, error) {
	if len(masterKey) < keyLen {
		return nil, fmt.Errorf("master key must be at least %d characters", keyLen)
	}
	key := pbkdf2.Key([]byte(masterKey), []byte(kdfSalt), kdfIterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a version-tagged, base64 ciphertext:
// "v1:" + base64(nonce || sealed).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionTag + ":" + base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Rejects unknown versions.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	tag, rest, ok := strings.Cut(ciphertext, ":")
	if !ok || tag != versionTag {
		return "", fmt.Errorf("%w: unsupported ciphertext format", ErrCrypto)
	}
	raw, err := base64.URLEncoding.DecodeString(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return string(plain), nil
}

// Vault couples the cipher with credential persistence.
type Vault struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	cipher *Cipher
}

// New creates a vault from the master key.
func New(masterKey string, store Store, logger *slog.Logger) (*Vault, error) {
	c, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{
		store:  store,
		logger: logger.With("component", "vault"),
		cipher: c,
	}, nil
}

func (v *Vault) current() *Cipher {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cipher
}

// StoreCredential encrypts and upserts a secret under its
// (user, broker, type) key.
func (v *Vault) StoreCredential(ctx context.Context, userID uuid.UUID, brokerID *uuid.UUID, typ model.CredentialType, value string) (uuid.UUID, error) {
	enc, err := v.current().Encrypt(value)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := v.store.UpsertCredential(ctx, model.Credential{
		UserID:          userID,
		BrokerAccountID: brokerID,
		Type:            typ,
		Ciphertext:      enc,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("store credential: %w", err)
	}
	v.logger.Info("credential stored", "user", userID, "type", typ)
	return id, nil
}

// BrokerCredentials fetches and decrypts every secret for one broker account.
// Credentials that fail to decrypt are skipped with a log line rather than
// failing the whole fetch.
func (v *Vault) BrokerCredentials(ctx context.Context, userID, brokerID uuid.UUID) (map[model.CredentialType]string, error) {
	creds, err := v.store.CredentialsForBroker(ctx, userID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}
	out := make(map[model.CredentialType]string, len(creds))
	for _, c := range creds {
		plain, err := v.current().Decrypt(c.Ciphertext)
		if err != nil {
			v.logger.Error("credential decrypt failed", "credential", c.ID, "error", err)
			continue
		}
		out[c.Type] = plain
	}
	return out, nil
}

// DeleteCredential removes one stored secret.
func (v *Vault) DeleteCredential(ctx context.Context, userID, id uuid.UUID) error {
	return v.store.DeleteCredential(ctx, userID, id)
}

// Rotate re-encrypts every credential under newKey and swaps the active
// cipher. All re-encryptions are staged in memory and persisted in a single
// transaction; a failure anywhere leaves every ciphertext under the old key
// and the old cipher still serving reads.
func (v *Vault) Rotate(ctx context.Context, newKey string) error {
	newCipher, err := NewCipher(newKey)
	if err != nil {
		return err
	}

	creds, err := v.store.AllCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	old := v.current()
	updates := make(map[uuid.UUID]string, len(creds))
	for _, c := range creds {
		plain, err := old.Decrypt(c.Ciphertext)
		if err != nil {
			return fmt.Errorf("rotate credential %s: %w", c.ID, err)
		}
		enc, err := newCipher.Encrypt(plain)
		if err != nil {
			return fmt.Errorf("rotate credential %s: %w", c.ID, err)
		}
		updates[c.ID] = enc
	}

	if err := v.store.ReplaceCredentialCiphertexts(ctx, updates); err != nil {
		return fmt.Errorf("rotate credentials: %w", err)
	}

	v.mu.Lock()
	v.cipher = newCipher
	v.mu.Unlock()

	v.logger.Info("master key rotated", "credentials", len(creds))
	return nil
}
