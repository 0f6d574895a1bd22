package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

const signalColumns = "id, user_id, channel_id, raw_text, extracted, category, actionable, status, received_at, processed_at"

// InsertSignal persists one raw message plus its extraction. raw_text and
// the extraction payload never change after this insert.
func (s *Store) InsertSignal(ctx context.Context, sig model.Signal) (*model.Signal, error) {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.Status == "" {
		sig.Status = model.SignalPending
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(sig.Extracted)
	if err != nil {
		return nil, fmt.Errorf("encode extraction: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO signals (id, user_id, channel_id, raw_text, extracted, category, actionable, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sig.ID, sig.UserID, sig.ChannelID, sig.RawText, payload,
		sig.Category, sig.Actionable, sig.Status, sig.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("insert signal: %w", err)
	}
	return &sig, nil
}

// RecordSignal writes the signal and its audit event in one transaction.
// On failure nothing is persisted and nothing should be emitted downstream.
func (s *Store) RecordSignal(ctx context.Context, sig model.Signal, audit model.AuditEvent) (*model.Signal, error) {
	var out *model.Signal
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		out, err = tx.InsertSignal(ctx, sig)
		if err != nil {
			return err
		}
		audit.UserID = out.UserID
		audit.ResourceID = &out.ID
		return tx.InsertAuditEvent(ctx, audit)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanSignal(row interface{ Scan(...any) error }) (*model.Signal, error) {
	var (
		sig     model.Signal
		payload []byte
	)
	err := row.Scan(&sig.ID, &sig.UserID, &sig.ChannelID, &sig.RawText, &payload,
		&sig.Category, &sig.Actionable, &sig.Status, &sig.ReceivedAt, &sig.ProcessedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(payload, &sig.Extracted); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &sig, nil
}

// Signal fetches one signal scoped to its owner.
func (s *Store) Signal(ctx context.Context, userID, id uuid.UUID) (*model.Signal, error) {
	return scanSignal(s.db.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1 AND user_id = $2`, id, userID))
}

// SignalByID fetches one signal regardless of owner. Internal callers only.
func (s *Store) SignalByID(ctx context.Context, id uuid.UUID) (*model.Signal, error) {
	return scanSignal(s.db.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1`, id))
}

// SignalsForUser lists a user's signals, newest first.
func (s *Store) SignalsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE user_id = $1 ORDER BY received_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

// UpdateSignalStatus moves a signal to its final status. The transition is
// guarded so a signal never leaves processed or rejected.
func (s *Store) UpdateSignalStatus(ctx context.Context, id uuid.UUID, status model.SignalStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE signals SET status = $2, processed_at = now()
		WHERE id = $1 AND status = $3`,
		id, status, model.SignalPending)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already settled by a concurrent recomputation.
		return nil
	}
	return nil
}
