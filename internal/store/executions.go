package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

const execColumns = `id, user_id, signal_id, broker_account_id, symbol, side, volume,
	entry_price, stop_loss, take_profit, actual_entry, actual_entry_time,
	close_price, close_time, profit_loss, ticket, state, error, executed_at,
	created_at, updated_at`

// InsertExecution persists one order attempt.
func (s *Store) InsertExecution(ctx context.Context, e model.Execution) (*model.Execution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO executions (id, user_id, signal_id, broker_account_id, symbol, side, volume,
			entry_price, stop_loss, take_profit, state, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		e.ID, e.UserID, e.SignalID, e.BrokerAccountID, e.Symbol, e.Side, e.Volume,
		e.EntryPrice, e.StopLoss, e.TakeProfit, e.State, e.Error,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return &e, nil
}

func scanExecution(row interface{ Scan(...any) error }) (*model.Execution, error) {
	var e model.Execution
	err := row.Scan(&e.ID, &e.UserID, &e.SignalID, &e.BrokerAccountID, &e.Symbol, &e.Side, &e.Volume,
		&e.EntryPrice, &e.StopLoss, &e.TakeProfit, &e.ActualEntry, &e.ActualEntryTime,
		&e.ClosePrice, &e.CloseTime, &e.ProfitLoss, &e.Ticket, &e.State, &e.Error, &e.ExecutedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]model.Execution, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Execution fetches one execution scoped to its owner.
func (s *Store) Execution(ctx context.Context, userID, id uuid.UUID) (*model.Execution, error) {
	return scanExecution(s.db.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions WHERE id = $1 AND user_id = $2`, id, userID))
}

// ExecutionByID fetches one execution regardless of owner. Internal callers only.
func (s *Store) ExecutionByID(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	return scanExecution(s.db.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions WHERE id = $1`, id))
}

// ExecutionsForUser lists a user's executions, newest first.
func (s *Store) ExecutionsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryExecutions(ctx,
		`SELECT `+execColumns+` FROM executions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

// ExecutionsForSignal lists a signal's executions in creation order, which is
// TP order.
func (s *Store) ExecutionsForSignal(ctx context.Context, signalID uuid.UUID) ([]model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+execColumns+` FROM executions WHERE signal_id = $1 ORDER BY created_at`, signalID)
}

// ExecutionsInState lists every execution in one state across users. The
// synchronizer scans EXECUTED this way each tick.
func (s *Store) ExecutionsInState(ctx context.Context, state model.ExecState) ([]model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+execColumns+` FROM executions WHERE state = $1 ORDER BY broker_account_id, created_at`,
		state)
}

// CountOpenExecutions counts a user's executions currently holding or about
// to hold a broker position.
func (s *Store) CountOpenExecutions(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM executions
		WHERE user_id = $1 AND state IN ($2, $3)`,
		userID, model.ExecExecuting, model.ExecExecuted,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open executions: %w", err)
	}
	return n, nil
}

// UpdateExecutionState moves an execution to a new state, guarded by the
// expected current state so concurrent transitions never race.
func (s *Store) UpdateExecutionState(ctx context.Context, id uuid.UUID, from, to model.ExecState, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET state = $3, error = $4, updated_at = now()
		WHERE id = $1 AND state = $2`,
		id, from, to, errMsg)
	if err != nil {
		return fmt.Errorf("update execution state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w in state %s", id, ErrNotFound, from)
	}
	return nil
}

// UpdateExecutionLevels rewrites SL/TP after an approval override or a
// position modify.
func (s *Store) UpdateExecutionLevels(ctx context.Context, id uuid.UUID, stopLoss, takeProfit *decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET stop_loss = COALESCE($2, stop_loss),
			take_profit = COALESCE($3, take_profit), updated_at = now()
		WHERE id = $1`,
		id, stopLoss, takeProfit)
	if err != nil {
		return fmt.Errorf("update execution levels: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordExecutionFill persists the broker's DONE result and moves the
// execution to EXECUTED.
func (s *Store) RecordExecutionFill(ctx context.Context, id uuid.UUID, ticket int64, actualEntry decimal.Decimal, executedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET state = $2, ticket = $3, actual_entry = $4,
			actual_entry_time = $5, executed_at = $5, error = '', updated_at = now()
		WHERE id = $1 AND state = $6`,
		id, model.ExecExecuted, ticket, actualEntry, executedAt, model.ExecExecuting)
	if err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordExecutionClose persists the closing deal and moves the execution
// from EXECUTED to CLOSED.
func (s *Store) RecordExecutionClose(ctx context.Context, id uuid.UUID, closePrice, profit decimal.Decimal, closedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET state = $2, close_price = $3, profit_loss = $4,
			close_time = $5, updated_at = now()
		WHERE id = $1 AND state = $6`,
		id, model.ExecClosed, closePrice, profit, closedAt, model.ExecExecuted)
	if err != nil {
		return fmt.Errorf("record close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExecutionProfit refreshes the floating P&L of an open position.
func (s *Store) UpdateExecutionProfit(ctx context.Context, id uuid.UUID, profit decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `
		UPDATE executions SET profit_loss = $2, updated_at = now()
		WHERE id = $1 AND state = $3`,
		id, profit, model.ExecExecuted)
	if err != nil {
		return fmt.Errorf("update profit: %w", err)
	}
	return nil
}
