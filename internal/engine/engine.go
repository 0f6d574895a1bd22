// Package engine turns actionable signals into broker orders. One signal
// fans out to one execution per take-profit level; each execution walks the
// lifecycle pending → validated → executing → executed → closed, with an
// approval gate in front when the user requires manual confirmation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/hub"
	"signalbridge/internal/model"
)

// ErrValidation marks pre-trade check failures. Surfaced to the user as a
// client error, never retried automatically.
var ErrValidation = errors.New("validation failed")

// ErrState marks an operation applied to an execution in the wrong state.
var ErrState = errors.New("invalid execution state")

// minConfidence gates extraction quality before any broker contact.
var minConfidence = decimal.NewFromFloat(0.5)

// Store is the persistence surface the engine needs.
type Store interface {
	SignalByID(ctx context.Context, id uuid.UUID) (*model.Signal, error)
	UpdateSignalStatus(ctx context.Context, id uuid.UUID, status model.SignalStatus) error
	BrokerAccount(ctx context.Context, userID, id uuid.UUID) (*model.BrokerAccount, error)
	PreferencesForUser(ctx context.Context, userID uuid.UUID) (*model.Preferences, error)
	InsertExecution(ctx context.Context, e model.Execution) (*model.Execution, error)
	Execution(ctx context.Context, userID, id uuid.UUID) (*model.Execution, error)
	ExecutionsForSignal(ctx context.Context, signalID uuid.UUID) ([]model.Execution, error)
	CountOpenExecutions(ctx context.Context, userID uuid.UUID) (int, error)
	UpdateExecutionState(ctx context.Context, id uuid.UUID, from, to model.ExecState, errMsg string) error
	UpdateExecutionLevels(ctx context.Context, id uuid.UUID, stopLoss, takeProfit *decimal.Decimal) error
	RecordExecutionFill(ctx context.Context, id uuid.UUID, ticket int64, actualEntry decimal.Decimal, executedAt time.Time) error
	RecordExecutionClose(ctx context.Context, id uuid.UUID, closePrice, profit decimal.Decimal, closedAt time.Time) error
}

// CredentialSource opens the vault for one broker account.
type CredentialSource interface {
	BrokerCredentials(ctx context.Context, userID, brokerID uuid.UUID) (map[model.CredentialType]string, error)
}

// Notifier pushes events toward the owning user's UI sessions.
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]any)
}

// Engine coordinates validation, pricing and order placement.
type Engine struct {
	store   Store
	adapter broker.Adapter
	creds   CredentialSource
	notify  Notifier
	logger  *slog.Logger

	mu          sync.Mutex
	signalLocks map[uuid.UUID]*sync.Mutex
}

// New wires the engine.
func New(store Store, adapter broker.Adapter, creds CredentialSource, notify Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		adapter:     adapter,
		creds:       creds,
		notify:      notify,
		logger:      logger.With("component", "engine"),
		signalLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// ProcessSignal fans one actionable signal out to its executions and, unless
// the user gates on manual approval, drives each one to a terminal state.
func (en *Engine) ProcessSignal(ctx context.Context, sig *model.Signal, brokerAccountID uuid.UUID) ([]model.Execution, error) {
	if !sig.Actionable {
		return nil, fmt.Errorf("%w: signal %s is not actionable", ErrValidation, sig.ID)
	}

	prefs, err := en.store.PreferencesForUser(ctx, sig.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := en.store.BrokerAccount(ctx, sig.UserID, brokerAccountID); err != nil {
		return nil, err
	}

	levels := sig.Extracted.TPLevels()
	volume := executionVolume(prefs.RiskPerTrade, len(levels))

	initial := model.ExecPending
	if prefs.ManualApproval {
		initial = model.ExecPendingApproval
	}

	execs := make([]model.Execution, 0, len(levels))
	for _, tp := range levels {
		e, err := en.store.InsertExecution(ctx, model.Execution{
			UserID:          sig.UserID,
			SignalID:        sig.ID,
			BrokerAccountID: brokerAccountID,
			Symbol:          sig.Extracted.Symbol,
			Side:            sig.Extracted.Side,
			Volume:          volume,
			EntryPrice:      sig.Extracted.Entry,
			StopLoss:        sig.Extracted.StopLoss,
			TakeProfit:      tp,
			State:           initial,
		})
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}

	if prefs.ManualApproval {
		for _, e := range execs {
			en.notify.Notify(sig.UserID, hub.EventApprovalRequired, approvalPayload(&e))
		}
		en.logger.Info("signal awaiting approval",
			"signal_id", sig.ID, "executions", len(execs))
		return execs, nil
	}

	for i := range execs {
		if err := en.execute(ctx, &execs[i], sig.Extracted, prefs); err != nil {
			en.logger.Warn("execution failed",
				"execution_id", execs[i].ID, "error", err)
		}
	}
	return en.store.ExecutionsForSignal(ctx, sig.ID)
}

// Confirm resumes one gated or failed execution, applying optional SL/TP
// overrides, and re-enters the flow at validation.
func (en *Engine) Confirm(ctx context.Context, userID, execID uuid.UUID, stopLoss, takeProfit *decimal.Decimal) (*model.Execution, error) {
	e, err := en.store.Execution(ctx, userID, execID)
	if err != nil {
		return nil, err
	}
	if e.State != model.ExecPendingApproval && e.State != model.ExecFailed {
		return nil, fmt.Errorf("%w: cannot confirm execution in state %s", ErrState, e.State)
	}

	if stopLoss != nil || takeProfit != nil {
		if err := en.store.UpdateExecutionLevels(ctx, e.ID, stopLoss, takeProfit); err != nil {
			return nil, err
		}
		if stopLoss != nil {
			e.StopLoss = stopLoss
		}
		if takeProfit != nil {
			e.TakeProfit = takeProfit
		}
	}

	sig, err := en.store.SignalByID(ctx, e.SignalID)
	if err != nil {
		return nil, err
	}
	prefs, err := en.store.PreferencesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := en.execute(ctx, e, sig.Extracted, prefs); err != nil {
		return e, err
	}
	return e, nil
}

// Cancel rejects one gated execution.
func (en *Engine) Cancel(ctx context.Context, userID, execID uuid.UUID) (*model.Execution, error) {
	e, err := en.store.Execution(ctx, userID, execID)
	if err != nil {
		return nil, err
	}
	if e.State != model.ExecPendingApproval {
		return nil, fmt.Errorf("%w: cannot cancel execution in state %s", ErrState, e.State)
	}

	if err := en.transition(ctx, e, model.ExecCancelled, ""); err != nil {
		return nil, err
	}
	en.notify.Notify(userID, hub.EventExecutionUpdate, statusPayload(e, nil))
	en.recomputeSignal(ctx, e.SignalID, userID)
	return e, nil
}

// Close flattens one open position at market.
func (en *Engine) Close(ctx context.Context, userID, execID uuid.UUID) (*model.Execution, error) {
	e, err := en.store.Execution(ctx, userID, execID)
	if err != nil {
		return nil, err
	}
	if e.State != model.ExecExecuted || e.Ticket == nil {
		return nil, fmt.Errorf("%w: cannot close execution in state %s", ErrState, e.State)
	}

	session, err := en.sessionFor(ctx, e)
	if err != nil {
		return nil, err
	}
	result, err := session.ClosePosition(ctx, e.Symbol, *e.Ticket)
	if err != nil {
		return nil, err
	}

	if err := en.store.RecordExecutionClose(ctx, e.ID, result.ClosePrice, result.ProfitLoss, result.ClosedAt); err != nil {
		return nil, err
	}
	e.State = model.ExecClosed
	e.ClosePrice = &result.ClosePrice
	e.ProfitLoss = &result.ProfitLoss
	e.CloseTime = &result.ClosedAt

	en.notify.Notify(userID, hub.EventPositionClosed, map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"ticket":       *e.Ticket,
		"close_price":  result.ClosePrice,
		"profit_loss":  result.ProfitLoss,
	})
	en.notify.Notify(userID, hub.EventExecutionUpdate, statusPayload(e, nil))
	en.recomputeSignal(ctx, e.SignalID, userID)
	return e, nil
}

// Modify rewrites the SL/TP of one open position.
func (en *Engine) Modify(ctx context.Context, userID, execID uuid.UUID, stopLoss, takeProfit *decimal.Decimal) (*model.Execution, error) {
	e, err := en.store.Execution(ctx, userID, execID)
	if err != nil {
		return nil, err
	}
	if e.State != model.ExecExecuted || e.Ticket == nil {
		return nil, fmt.Errorf("%w: cannot modify execution in state %s", ErrState, e.State)
	}
	if stopLoss == nil && takeProfit == nil {
		return nil, fmt.Errorf("%w: nothing to modify", ErrValidation)
	}

	session, err := en.sessionFor(ctx, e)
	if err != nil {
		return nil, err
	}
	if err := session.ModifyPosition(ctx, *e.Ticket, stopLoss, takeProfit); err != nil {
		return nil, err
	}
	if err := en.store.UpdateExecutionLevels(ctx, e.ID, stopLoss, takeProfit); err != nil {
		return nil, err
	}
	if stopLoss != nil {
		e.StopLoss = stopLoss
	}
	if takeProfit != nil {
		e.TakeProfit = takeProfit
	}

	en.notify.Notify(userID, hub.EventExecutionUpdate, map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"status":       "modified",
		"stop_loss":    e.StopLoss,
		"take_profit":  e.TakeProfit,
	})
	return e, nil
}

// execute drives one execution from its current resting state to a terminal
// one: validate, price, place, record.
func (en *Engine) execute(ctx context.Context, e *model.Execution, ext model.Extraction, prefs *model.Preferences) error {
	if err := en.validate(ctx, e, ext, prefs); err != nil {
		en.fail(ctx, e, err.Error())
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := en.transition(ctx, e, model.ExecValidated, ""); err != nil {
		return err
	}

	if err := en.transition(ctx, e, model.ExecExecuting, ""); err != nil {
		return err
	}
	en.notify.Notify(e.UserID, hub.EventExecutionUpdate, statusPayload(e, nil))

	session, err := en.sessionFor(ctx, e)
	if err != nil {
		en.fail(ctx, e, err.Error())
		return err
	}
	quote, err := session.Quote(ctx, e.Symbol)
	if err != nil {
		en.fail(ctx, e, err.Error())
		return err
	}

	plan := planOrder(e.Side, ext, prefs, quote)
	if plan.market {
		return en.placeMarket(ctx, session, e, plan)
	}
	return en.placeLimit(ctx, session, e, *plan.limitPrice)
}

func (en *Engine) placeMarket(ctx context.Context, session broker.Session, e *model.Execution, plan orderPlan) error {
	result, err := session.MarketOrder(ctx, broker.OrderRequest{
		Symbol:     e.Symbol,
		Side:       e.Side,
		Volume:     e.Volume,
		StopLoss:   e.StopLoss,
		TakeProfit: e.TakeProfit,
		Comment:    orderComment(e),
	})
	if err == nil {
		return en.recordFill(ctx, e, result.Ticket, result.ActualEntry, result.ExecutedAt)
	}

	if plan.plannedEntry == nil {
		en.fail(ctx, e, err.Error())
		return err
	}

	// Market rejected but we know where the author wanted in; retry as a
	// pending limit at the planned entry.
	en.logger.Warn("market order rejected, falling back to limit",
		"execution_id", e.ID, "entry", plan.plannedEntry, "error", err)
	en.notify.Notify(e.UserID, hub.EventExecutionUpdate, map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"status":       "falling_back",
		"entry":        plan.plannedEntry,
	})
	return en.placeLimit(ctx, session, e, *plan.plannedEntry)
}

func (en *Engine) placeLimit(ctx context.Context, session broker.Session, e *model.Execution, price decimal.Decimal) error {
	result, err := session.LimitOrder(ctx, broker.LimitRequest{
		Symbol:     e.Symbol,
		Side:       e.Side,
		Price:      price,
		Volume:     e.Volume,
		StopLoss:   e.StopLoss,
		TakeProfit: e.TakeProfit,
		Comment:    orderComment(e),
	})
	if err != nil {
		// A failed limit is terminal; there is nothing cheaper to retry as.
		en.fail(ctx, e, err.Error())
		return err
	}
	return en.recordFill(ctx, e, result.Ticket, price, result.PlacedAt)
}

func (en *Engine) recordFill(ctx context.Context, e *model.Execution, ticket int64, entry decimal.Decimal, at time.Time) error {
	if err := en.store.RecordExecutionFill(ctx, e.ID, ticket, entry, at); err != nil {
		return err
	}
	e.State = model.ExecExecuted
	e.Ticket = &ticket
	e.ActualEntry = &entry
	e.ExecutedAt = &at

	en.logger.Info("execution filled",
		"execution_id", e.ID, "symbol", e.Symbol, "ticket", ticket, "entry", entry)
	en.notify.Notify(e.UserID, hub.EventExecutionUpdate, statusPayload(e, &ticket))
	en.recomputeSignal(ctx, e.SignalID, e.UserID)
	return nil
}

// validate runs every pre-trade check. No broker call happens on failure.
func (en *Engine) validate(ctx context.Context, e *model.Execution, ext model.Extraction, prefs *model.Preferences) error {
	if e.Symbol == "" || e.Side == "" {
		return errors.New("missing symbol or side")
	}
	if ext.Confidence.LessThan(minConfidence) {
		return fmt.Errorf("confidence %s below threshold", ext.Confidence)
	}

	if e.EntryPrice != nil && e.StopLoss != nil && e.TakeProfit != nil {
		entry, sl, tp := *e.EntryPrice, *e.StopLoss, *e.TakeProfit
		switch e.Side {
		case model.SideBuy:
			if !sl.LessThan(entry) || !entry.LessThan(tp) {
				return fmt.Errorf("invalid price levels for buy: SL %s, entry %s, TP %s", sl, entry, tp)
			}
		case model.SideSell:
			if !tp.LessThan(entry) || !entry.LessThan(sl) {
				return fmt.Errorf("invalid price levels for sell: TP %s, entry %s, SL %s", tp, entry, sl)
			}
		}
	}

	open, err := en.store.CountOpenExecutions(ctx, e.UserID)
	if err != nil {
		return err
	}
	if open >= prefs.MaxOpenPositions {
		return fmt.Errorf("max open positions reached (%d)", prefs.MaxOpenPositions)
	}
	return nil
}

// transition applies one legal state edge and mirrors it locally.
func (en *Engine) transition(ctx context.Context, e *model.Execution, to model.ExecState, errMsg string) error {
	if err := checkTransition(e.State, to); err != nil {
		return err
	}
	if err := en.store.UpdateExecutionState(ctx, e.ID, e.State, to, errMsg); err != nil {
		return err
	}
	e.State = to
	e.Error = errMsg
	return nil
}

// fail parks the execution in FAILED with the recorded reason and settles
// the parent signal if everything else is already terminal.
func (en *Engine) fail(ctx context.Context, e *model.Execution, reason string) {
	if e.State == model.ExecFailed {
		// Confirm-replay failed again; keep the newest reason.
		if err := en.store.UpdateExecutionState(ctx, e.ID, e.State, model.ExecFailed, reason); err != nil {
			en.logger.Error("record failure reason", "execution_id", e.ID, "error", err)
		}
	} else if err := en.transition(ctx, e, model.ExecFailed, reason); err != nil {
		en.logger.Error("transition to failed", "execution_id", e.ID, "error", err)
		return
	}
	e.Error = reason

	en.notify.Notify(e.UserID, hub.EventExecutionUpdate, statusPayload(e, nil))
	en.recomputeSignal(ctx, e.SignalID, e.UserID)
}

// SettleSignal re-evaluates the parent signal after an externally observed
// terminal transition, such as the synchronizer closing a position.
func (en *Engine) SettleSignal(ctx context.Context, signalID, userID uuid.UUID) {
	en.recomputeSignal(ctx, signalID, userID)
}

// recomputeSignal settles the parent signal once all executions are
// terminal. Serialized per signal so concurrent terminal transitions never
// interleave the read-evaluate-write.
func (en *Engine) recomputeSignal(ctx context.Context, signalID, userID uuid.UUID) {
	lock := en.signalLock(signalID)
	lock.Lock()
	defer lock.Unlock()

	execs, err := en.store.ExecutionsForSignal(ctx, signalID)
	if err != nil {
		en.logger.Error("load executions for recompute", "signal_id", signalID, "error", err)
		return
	}
	if len(execs) == 0 {
		return
	}

	allTerminal, allCancelled, anySuccess := true, true, false
	for _, e := range execs {
		if !e.State.Terminal() {
			allTerminal = false
		}
		if e.State != model.ExecCancelled {
			allCancelled = false
		}
		if e.State == model.ExecExecuted || e.State == model.ExecClosed {
			anySuccess = true
		}
	}
	if !allTerminal {
		return
	}

	var status model.SignalStatus
	switch {
	case allCancelled:
		status = model.SignalRejected
	case anySuccess:
		status = model.SignalProcessed
	default:
		// All terminal but only failures: leave pending so a confirm can
		// replay any of them.
		return
	}

	if err := en.store.UpdateSignalStatus(ctx, signalID, status); err != nil {
		en.logger.Error("update signal status", "signal_id", signalID, "error", err)
		return
	}
	en.notify.Notify(userID, hub.EventSignalUpdate, map[string]any{
		"signal_id": signalID,
		"status":    string(status),
	})
}

func (en *Engine) signalLock(signalID uuid.UUID) *sync.Mutex {
	en.mu.Lock()
	defer en.mu.Unlock()
	lock, ok := en.signalLocks[signalID]
	if !ok {
		lock = &sync.Mutex{}
		en.signalLocks[signalID] = lock
	}
	return lock
}

// sessionFor opens or reuses the broker session owning this execution's
// account.
func (en *Engine) sessionFor(ctx context.Context, e *model.Execution) (broker.Session, error) {
	account, err := en.store.BrokerAccount(ctx, e.UserID, e.BrokerAccountID)
	if err != nil {
		return nil, err
	}
	secrets, err := en.creds.BrokerCredentials(ctx, e.UserID, e.BrokerAccountID)
	if err != nil {
		return nil, err
	}
	password, ok := secrets[model.CredPassword]
	if !ok {
		return nil, fmt.Errorf("no stored password for broker account %s", e.BrokerAccountID)
	}
	return en.adapter.Connect(ctx, broker.Credentials{
		Login:    account.Login,
		Password: password,
		Server:   account.Server,
	})
}

func orderComment(e *model.Execution) string {
	return "sb:" + e.SignalID.String()[:8]
}

func statusPayload(e *model.Execution, ticket *int64) map[string]any {
	payload := map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"status":       string(e.State),
	}
	if ticket != nil {
		payload["ticket"] = *ticket
	}
	if e.Error != "" {
		payload["error"] = e.Error
	}
	return payload
}

func approvalPayload(e *model.Execution) map[string]any {
	return map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID,
		"symbol":       e.Symbol,
		"side":         string(e.Side),
		"volume":       e.Volume,
		"entry":        e.EntryPrice,
		"stop_loss":    e.StopLoss,
		"take_profit":  e.TakeProfit,
	}
}
