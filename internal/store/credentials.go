package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

const credColumns = "id, user_id, broker_account_id, cred_type, ciphertext, created_at, updated_at"

// UpsertCredential inserts or replaces the ciphertext for one
// (user, broker account, type) key and returns the row id.
func (s *Store) UpsertCredential(ctx context.Context, cred model.Credential) (uuid.UUID, error) {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO credentials (id, user_id, broker_account_id, cred_type, ciphertext)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, COALESCE(broker_account_id, '00000000-0000-0000-0000-000000000000'::uuid), cred_type)
		DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = now()
		RETURNING id`,
		cred.ID, cred.UserID, cred.BrokerAccountID, cred.Type, cred.Ciphertext,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert credential: %w", err)
	}
	return id, nil
}

func scanCredentials(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]model.Credential, error) {
	defer rows.Close()
	var out []model.Credential
	for rows.Next() {
		var c model.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.BrokerAccountID, &c.Type, &c.Ciphertext, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CredentialsForBroker lists the encrypted secrets for one broker account.
func (s *Store) CredentialsForBroker(ctx context.Context, userID, brokerID uuid.UUID) ([]model.Credential, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE user_id = $1 AND broker_account_id = $2`,
		userID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return scanCredentials(rows)
}

// AllCredentials lists every stored credential. Used only by key rotation.
func (s *Store) AllCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := s.db.Query(ctx, `SELECT `+credColumns+` FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("list all credentials: %w", err)
	}
	return scanCredentials(rows)
}

// ReplaceCredentialCiphertexts swaps every listed ciphertext inside one
// transaction. Used by key rotation: a partial rewrite would strand rows
// under a key the vault no longer holds, so it is all or nothing.
func (s *Store) ReplaceCredentialCiphertexts(ctx context.Context, updates map[uuid.UUID]string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		for id, ciphertext := range updates {
			tag, err := tx.db.Exec(ctx,
				`UPDATE credentials SET ciphertext = $2, updated_at = now() WHERE id = $1`,
				id, ciphertext)
			if err != nil {
				return fmt.Errorf("update credential %s: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("update credential %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// DeleteCredential removes one credential scoped to its owner.
func (s *Store) DeleteCredential(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
