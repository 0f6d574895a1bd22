package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signalbridge/internal/model"
)

// PreferencesForUser returns the user's trading settings, materializing the
// defaults as a stored row on first read.
func (s *Store) PreferencesForUser(ctx context.Context, userID uuid.UUID) (*model.Preferences, error) {
	var p model.Preferences
	err := s.db.QueryRow(ctx, `
		SELECT user_id, manual_approval, risk_per_trade, max_slippage_pips,
			default_sl_pips, use_limit_orders, max_open_positions, updated_at
		FROM preferences WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.ManualApproval, &p.RiskPerTrade, &p.MaxSlippagePips,
		&p.DefaultSLPips, &p.UseLimitOrders, &p.MaxOpenPositions, &p.UpdatedAt)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	defaults := model.DefaultPreferences(userID)
	if err := s.SavePreferences(ctx, &defaults); err != nil {
		return nil, err
	}
	return &defaults, nil
}

// SavePreferences upserts the full settings row.
func (s *Store) SavePreferences(ctx context.Context, p *model.Preferences) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO preferences (user_id, manual_approval, risk_per_trade, max_slippage_pips,
			default_sl_pips, use_limit_orders, max_open_positions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			manual_approval = EXCLUDED.manual_approval,
			risk_per_trade = EXCLUDED.risk_per_trade,
			max_slippage_pips = EXCLUDED.max_slippage_pips,
			default_sl_pips = EXCLUDED.default_sl_pips,
			use_limit_orders = EXCLUDED.use_limit_orders,
			max_open_positions = EXCLUDED.max_open_positions,
			updated_at = now()
		RETURNING updated_at`,
		p.UserID, p.ManualApproval, p.RiskPerTrade, p.MaxSlippagePips,
		p.DefaultSLPips, p.UseLimitOrders, p.MaxOpenPositions,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
