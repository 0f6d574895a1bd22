package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

// InsertAuditEvent appends one action record. Audit rows are never updated
// or deleted by the application.
func (s *Store) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_events (id, user_id, action, resource_kind, resource_id, details, client_addr)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.UserID, ev.Action, ev.ResourceKind, ev.ResourceID, details, ev.ClientAddr)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AuditEventsForUser lists a user's recent actions, newest first.
func (s *Store) AuditEventsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, action, resource_kind, resource_id, details, client_addr, created_at
		FROM audit_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev      model.AuditEvent
			details []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Action, &ev.ResourceKind, &ev.ResourceID, &details, &ev.ClientAddr, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
