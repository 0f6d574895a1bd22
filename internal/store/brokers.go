package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

const brokerColumns = "id, user_id, broker_name, login, server, created_at, updated_at"

// CreateBrokerAccount inserts one broker-terminal login record. The password
// is stored separately through the vault.
func (s *Store) CreateBrokerAccount(ctx context.Context, acct model.BrokerAccount) (*model.BrokerAccount, error) {
	acct.ID = uuid.New()
	err := s.db.QueryRow(ctx, `
		INSERT INTO broker_accounts (id, user_id, broker_name, login, server)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		acct.ID, acct.UserID, acct.BrokerName, acct.Login, acct.Server,
	).Scan(&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create broker account: %w", err)
	}
	return &acct, nil
}

// BrokerAccount fetches one account scoped to its owner.
func (s *Store) BrokerAccount(ctx context.Context, userID, id uuid.UUID) (*model.BrokerAccount, error) {
	var a model.BrokerAccount
	err := s.db.QueryRow(ctx,
		`SELECT `+brokerColumns+` FROM broker_accounts WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&a.ID, &a.UserID, &a.BrokerName, &a.Login, &a.Server, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// BrokerAccountByID fetches one account regardless of owner. The synchronizer
// uses it when grouping executions across users.
func (s *Store) BrokerAccountByID(ctx context.Context, id uuid.UUID) (*model.BrokerAccount, error) {
	var a model.BrokerAccount
	err := s.db.QueryRow(ctx,
		`SELECT `+brokerColumns+` FROM broker_accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.BrokerName, &a.Login, &a.Server, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// BrokerAccountsForUser lists a user's accounts, newest first.
func (s *Store) BrokerAccountsForUser(ctx context.Context, userID uuid.UUID) ([]model.BrokerAccount, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+brokerColumns+` FROM broker_accounts WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list broker accounts: %w", err)
	}
	defer rows.Close()

	var out []model.BrokerAccount
	for rows.Next() {
		var a model.BrokerAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.BrokerName, &a.Login, &a.Server, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteBrokerAccount removes one account scoped to its owner.
func (s *Store) DeleteBrokerAccount(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM broker_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete broker account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
