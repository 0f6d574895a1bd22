package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

const channelColumns = "id, user_id, channel_id, label, is_active, created_at, updated_at"

func scanChannels(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]model.ChannelSubscription, error) {
	defer rows.Close()
	var out []model.ChannelSubscription
	for rows.Next() {
		var c model.ChannelSubscription
		if err := rows.Scan(&c.ID, &c.UserID, &c.ChannelID, &c.Label, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateChannelSubscription binds a user to an external channel id.
func (s *Store) CreateChannelSubscription(ctx context.Context, sub model.ChannelSubscription) (*model.ChannelSubscription, error) {
	sub.ID = uuid.New()
	sub.IsActive = true
	err := s.db.QueryRow(ctx, `
		INSERT INTO channel_subscriptions (id, user_id, channel_id, label, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING created_at, updated_at`,
		sub.ID, sub.UserID, sub.ChannelID, sub.Label,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("channel %d: %w", sub.ChannelID, ErrDuplicate)
		}
		return nil, fmt.Errorf("create channel subscription: %w", err)
	}
	return &sub, nil
}

// ChannelSubscriptionsForUser lists a user's subscriptions.
func (s *Store) ChannelSubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]model.ChannelSubscription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+channelColumns+` FROM channel_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list channel subscriptions: %w", err)
	}
	return scanChannels(rows)
}

// ActiveChannelSubscriptions lists every active subscription across users.
// The coordinator registers one message handler per row.
func (s *Store) ActiveChannelSubscriptions(ctx context.Context) ([]model.ChannelSubscription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+channelColumns+` FROM channel_subscriptions WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return scanChannels(rows)
}

// SubscriptionsForChannel finds every user subscribed to one external channel.
// A message fans out to each of them independently.
func (s *Store) SubscriptionsForChannel(ctx context.Context, channelID int64) ([]model.ChannelSubscription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+channelColumns+` FROM channel_subscriptions WHERE channel_id = $1 AND is_active`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("lookup channel %d: %w", channelID, err)
	}
	return scanChannels(rows)
}

// DeleteChannelSubscription removes one subscription scoped to its owner.
func (s *Store) DeleteChannelSubscription(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM channel_subscriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete channel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
