// Package sync reconciles open executions against the broker. Every tick it
// scans executions in EXECUTED, pulls each broker account's open-positions
// list once, refreshes floating P&L, and detects broker-side closures
// through the deal history.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/hub"
	"signalbridge/internal/model"
)

// Store is the persistence surface the synchronizer needs.
type Store interface {
	ExecutionsInState(ctx context.Context, state model.ExecState) ([]model.Execution, error)
	BrokerAccountByID(ctx context.Context, id uuid.UUID) (*model.BrokerAccount, error)
	UpdateExecutionProfit(ctx context.Context, id uuid.UUID, profit decimal.Decimal) error
	RecordExecutionClose(ctx context.Context, id uuid.UUID, closePrice, profit decimal.Decimal, closedAt time.Time) error
}

// CredentialSource opens the vault for one broker account.
type CredentialSource interface {
	BrokerCredentials(ctx context.Context, userID, brokerID uuid.UUID) (map[model.CredentialType]string, error)
}

// Settler re-evaluates a signal's final status after a terminal transition.
// The engine provides this.
type Settler interface {
	SettleSignal(ctx context.Context, signalID, userID uuid.UUID)
}

// Notifier pushes events toward the owning user's UI sessions.
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]any)
}

// Synchronizer is the periodic reconciliation loop.
type Synchronizer struct {
	store    Store
	adapter  broker.Adapter
	creds    CredentialSource
	settler  Settler
	notify   Notifier
	interval time.Duration
	logger   *slog.Logger
}

// New wires the synchronizer.
func New(store Store, adapter broker.Adapter, creds CredentialSource, settler Settler, notify Notifier, interval time.Duration, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:    store,
		adapter:  adapter,
		creds:    creds,
		settler:  settler,
		notify:   notify,
		interval: interval,
		logger:   logger.With("component", "sync"),
	}
}

// Run ticks until the context is cancelled. A failed tick is logged and the
// next one proceeds; the loop itself never returns an error.
func (s *Synchronizer) Run(ctx context.Context) {
	s.logger.Info("synchronizer started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synchronizer stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass.
func (s *Synchronizer) Tick(ctx context.Context) {
	execs, err := s.store.ExecutionsInState(ctx, model.ExecExecuted)
	if err != nil {
		s.logger.Warn("scan open executions failed", "error", err)
		return
	}
	if len(execs) == 0 {
		return
	}

	// One broker session and one positions snapshot per account.
	groups := make(map[uuid.UUID][]model.Execution)
	for _, e := range execs {
		groups[e.BrokerAccountID] = append(groups[e.BrokerAccountID], e)
	}

	for accountID, group := range groups {
		if err := s.syncAccount(ctx, accountID, group); err != nil {
			s.logger.Warn("account sync failed", "broker_account_id", accountID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Synchronizer) syncAccount(ctx context.Context, accountID uuid.UUID, execs []model.Execution) error {
	userID := execs[0].UserID

	account, err := s.store.BrokerAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	secrets, err := s.creds.BrokerCredentials(ctx, userID, accountID)
	if err != nil {
		return err
	}
	session, err := s.adapter.Connect(ctx, broker.Credentials{
		Login:    account.Login,
		Password: secrets[model.CredPassword],
		Server:   account.Server,
	})
	if err != nil {
		return err
	}

	positions, err := session.ListPositions(ctx, "")
	if err != nil {
		return err
	}
	open := make(map[int64]broker.Position, len(positions))
	for _, p := range positions {
		open[p.Ticket] = p
	}

	for _, e := range execs {
		if e.Ticket == nil {
			continue
		}
		if pos, ok := open[*e.Ticket]; ok {
			s.refreshOpen(ctx, &e, pos)
		} else {
			s.detectClosure(ctx, session, &e)
		}
	}
	return nil
}

// refreshOpen updates the floating P&L of a still-open position.
func (s *Synchronizer) refreshOpen(ctx context.Context, e *model.Execution, pos broker.Position) {
	if err := s.store.UpdateExecutionProfit(ctx, e.ID, pos.Profit); err != nil {
		s.logger.Warn("update profit failed", "execution_id", e.ID, "error", err)
		return
	}
	s.notify.Notify(e.UserID, hub.EventPositionUpdate, map[string]any{
		"execution_id":  e.ID,
		"signal_id":     e.SignalID,
		"ticket":        *e.Ticket,
		"symbol":        e.Symbol,
		"profit_loss":   pos.Profit,
		"price_current": pos.PriceCurrent,
	})
}

// detectClosure handles a ticket missing from the open list: with a closing
// deal in history the execution is CLOSED; with no deal yet, nothing happens
// and the next tick looks again.
func (s *Synchronizer) detectClosure(ctx context.Context, session broker.Session, e *model.Execution) {
	deal, err := session.HistoryDeal(ctx, *e.Ticket)
	if err != nil || deal == nil {
		return
	}

	if err := s.store.RecordExecutionClose(ctx, e.ID, deal.Price, deal.Profit, deal.Time); err != nil {
		s.logger.Warn("record closure failed", "execution_id", e.ID, "error", err)
		return
	}
	s.logger.Info("position closed at broker",
		"execution_id", e.ID, "ticket", *e.Ticket, "profit", deal.Profit)

	s.notify.Notify(e.UserID, hub.EventPositionClosed, map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"ticket":       *e.Ticket,
		"close_price":  deal.Price,
		"profit_loss":  deal.Profit,
	})
	s.settler.SettleSignal(ctx, e.SignalID, e.UserID)
}
