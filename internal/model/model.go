// Package model defines the persistent entities and closed enumerations shared
// by every layer of the pipeline: users, broker accounts, channel
// subscriptions, signals, executions, preferences, subscribers and audit
// events. Prices, volumes and P&L are decimal.Decimal everywhere; float64
// never touches persistence or validation.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category classifies an inbound chat message.
type Category string

const (
	CategoryActionable   Category = "actionable_signal"
	CategoryModification Category = "modification"
	CategoryCommentary   Category = "commentary"
)

// ParseCategory rejects unknown values at the boundary.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryActionable, CategoryModification, CategoryCommentary:
		return c, nil
	}
	return "", fmt.Errorf("unknown message category %q", s)
}

// ModificationType is the sub-kind of a modification message.
type ModificationType string

const (
	ModBreakevenMove    ModificationType = "breakeven_move"
	ModCancellation     ModificationType = "cancellation"
	ModPartialClose     ModificationType = "partial_close"
	ModStopAdjustment   ModificationType = "stop_adjustment"
	ModTargetAdjustment ModificationType = "target_adjustment"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide rejects unknown values at the boundary.
func ParseSide(s string) (Side, error) {
	switch v := Side(s); v {
	case SideBuy, SideSell:
		return v, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// SignalStatus is monotone: pending → processed | rejected.
type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalProcessed SignalStatus = "processed"
	SignalRejected  SignalStatus = "rejected"
)

// ExecState is the per-position execution state. Transitions are owned by
// the engine and synchronizer; see engine/state.go for the legal edges.
type ExecState string

const (
	ExecPending         ExecState = "pending"
	ExecPendingApproval ExecState = "pending_approval"
	ExecValidated       ExecState = "validated"
	ExecExecuting       ExecState = "executing"
	ExecExecuted        ExecState = "executed"
	ExecClosed          ExecState = "closed"
	ExecFailed          ExecState = "failed"
	ExecCancelled       ExecState = "cancelled"
)

// Terminal reports whether the state ends the execution lifecycle.
// EXECUTED is terminal for signal-status purposes even though the
// synchronizer may still move it to CLOSED.
func (s ExecState) Terminal() bool {
	switch s {
	case ExecExecuted, ExecClosed, ExecFailed, ExecCancelled:
		return true
	}
	return false
}

// User is the root of ownership for every other entity.
type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BrokerAccount identifies one broker-terminal login. The password lives in
// the vault, keyed by (user, broker account).
type BrokerAccount struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BrokerName string
	Login      string
	Server     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CredentialType names what a stored secret is for.
type CredentialType string

const (
	CredPassword CredentialType = "mt5_password"
	CredAPIKey   CredentialType = "api_key"
)

// Credential is an encrypted secret, unique per (user, broker, type) and
// upserted in place.
type Credential struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	BrokerAccountID *uuid.UUID
	Type            CredentialType
	Ciphertext      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChannelSubscription binds one user to one external chat channel. The same
// external channel may belong to several users independently.
type ChannelSubscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ChannelID int64 // external chat channel id
	Label     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Extraction is the structured trade intent produced by the classifier and
// extractor. It is persisted verbatim on the Signal and is a pure function of
// the raw text.
type Extraction struct {
	Category         Category          `json:"category"`
	ModificationType *ModificationType `json:"modification_type,omitempty"`
	Symbol           string            `json:"symbol,omitempty"`
	Side             Side              `json:"side,omitempty"`
	Entry            *decimal.Decimal  `json:"entry_price,omitempty"`
	EntryRange       []decimal.Decimal `json:"entry_range,omitempty"` // [low, high] when present
	StopLoss         *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal  `json:"take_profit,omitempty"`
	TakeProfits      []decimal.Decimal `json:"take_profits,omitempty"`
	Confidence       decimal.Decimal   `json:"confidence_score"`
	Method           string            `json:"parsing_method"` // "heuristic" or "llm"
	Reasoning        string            `json:"reasoning,omitempty"`
}

// Actionable reports whether the extraction should reach the engine.
func (e Extraction) Actionable() bool {
	return e.Category == CategoryActionable
}

// TPLevels resolves the fan-out list: every extracted take-profit, else the
// single take_profit, else one nil level.
func (e Extraction) TPLevels() []*decimal.Decimal {
	if len(e.TakeProfits) > 0 {
		out := make([]*decimal.Decimal, len(e.TakeProfits))
		for i := range e.TakeProfits {
			tp := e.TakeProfits[i]
			out[i] = &tp
		}
		return out
	}
	if e.TakeProfit != nil {
		return []*decimal.Decimal{e.TakeProfit}
	}
	return []*decimal.Decimal{nil}
}

// Signal is one raw chat message plus its extraction. raw_text is immutable;
// only status/processed_at change after insert.
type Signal struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ChannelID   uuid.UUID // ChannelSubscription id
	RawText     string
	Extracted   Extraction
	Category    Category
	Actionable  bool
	Status      SignalStatus
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// Execution is one order attempt at a broker for one take-profit target of a
// signal. One actionable signal fans out to max(1, len(take_profits))
// executions.
type Execution struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SignalID        uuid.UUID
	BrokerAccountID uuid.UUID
	Symbol          string
	Side            Side
	Volume          decimal.Decimal
	EntryPrice      *decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	ActualEntry     *decimal.Decimal
	ActualEntryTime *time.Time
	ClosePrice      *decimal.Decimal
	CloseTime       *time.Time
	ProfitLoss      *decimal.Decimal
	Ticket          *int64
	State           ExecState
	Error           string
	ExecutedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Preferences holds per-user trading settings, materialized with defaults on
// first read.
type Preferences struct {
	UserID           uuid.UUID
	ManualApproval   bool
	RiskPerTrade     decimal.Decimal // total lot volume split across TP levels
	MaxSlippagePips  decimal.Decimal
	DefaultSLPips    int
	UseLimitOrders   bool
	MaxOpenPositions int
	UpdatedAt        time.Time
}

// DefaultPreferences are applied when a user has no stored row.
func DefaultPreferences(userID uuid.UUID) Preferences {
	return Preferences{
		UserID:           userID,
		ManualApproval:   true,
		RiskPerTrade:     decimal.NewFromInt(1),
		MaxSlippagePips:  decimal.NewFromInt(5),
		DefaultSLPips:    20,
		UseLimitOrders:   true,
		MaxOpenPositions: 5,
	}
}

// Subscriber is an external forwarding target for reformatted signals.
type Subscriber struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Address   string // external chat address, numeric id or @handle
	Label     string
	IsActive  bool
	CreatedAt time.Time
}

// AuditEvent is an append-only action record.
type AuditEvent struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Action       string
	ResourceKind string
	ResourceID   *uuid.UUID
	Details      map[string]any
	ClientAddr   string
	CreatedAt    time.Time
}

// MinVolume is the smallest lot size any execution may carry.
var MinVolume = decimal.NewFromFloat(0.01)
