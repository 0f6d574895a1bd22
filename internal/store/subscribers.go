package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

const subscriberColumns = "id, user_id, address, label, is_active, created_at"

func scanSubscribers(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]model.Subscriber, error) {
	defer rows.Close()
	var out []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Address, &sub.Label, &sub.IsActive, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CreateSubscriber registers one forwarding target for the user's signals.
func (s *Store) CreateSubscriber(ctx context.Context, sub model.Subscriber) (*model.Subscriber, error) {
	sub.ID = uuid.New()
	sub.IsActive = true
	err := s.db.QueryRow(ctx, `
		INSERT INTO subscribers (id, user_id, address, label, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING created_at`,
		sub.ID, sub.UserID, sub.Address, sub.Label,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return &sub, nil
}

// SubscribersForUser lists every forwarding target for one user.
func (s *Store) SubscribersForUser(ctx context.Context, userID uuid.UUID) ([]model.Subscriber, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return scanSubscribers(rows)
}

// ActiveSubscribersForUser lists only targets that should receive forwards.
func (s *Store) ActiveSubscribersForUser(ctx context.Context, userID uuid.UUID) ([]model.Subscriber, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE user_id = $1 AND is_active ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	return scanSubscribers(rows)
}

// DeleteSubscriber removes one forwarding target scoped to its owner.
func (s *Store) DeleteSubscriber(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM subscribers WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
