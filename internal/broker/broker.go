// Package broker defines the adapter contract against a broker terminal:
// connect, place and close orders, modify protection levels, query quotes,
// open positions, historical deals and account state. The execution engine
// and the synchronizer only ever see these interfaces; the mt5 subpackage
// provides the bridge-backed implementation.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

// MT5 trade return codes the engine cares about.
const (
	RetcodeDone   = 10009
	RetcodePlaced = 10008
)

// Fill-mode capability bits reported per symbol.
const (
	FillFOK    = 1
	FillIOC    = 2
	FillReturn = 4
)

// Error is a structured broker failure carrying the terminal retcode.
// A zero retcode means a transport-level failure.
type Error struct {
	Retcode int
	Message string
}

func (e *Error) Error() string {
	if e.Retcode != 0 {
		return fmt.Sprintf("broker: %s (retcode %d)", e.Message, e.Retcode)
	}
	return "broker: " + e.Message
}

// Credentials bind one terminal login. The password comes from the vault
// and never leaves this process except toward the bridge.
type Credentials struct {
	Login    string
	Password string
	Server   string
}

// Quote is a symbol snapshot at request time.
type Quote struct {
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Point    decimal.Decimal
	Digits   int
	Spread   decimal.Decimal
	FillMode int
}

// Pip returns the pip size for the quoted symbol: ten points on 3- and
// 5-digit symbols, one point otherwise.
func (q *Quote) Pip() decimal.Decimal {
	if q.Digits == 3 || q.Digits == 5 {
		return q.Point.Mul(decimal.NewFromInt(10))
	}
	return q.Point
}

// OrderRequest places a market order.
type OrderRequest struct {
	Symbol     string
	Side       model.Side
	Volume     decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Comment    string
}

// LimitRequest places a pending limit order at Price.
type LimitRequest struct {
	Symbol     string
	Side       model.Side
	Price      decimal.Decimal
	Volume     decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Expiration *time.Time
	Comment    string
}

// OrderResult is the outcome of a filled market order.
type OrderResult struct {
	Ticket      int64
	ActualEntry decimal.Decimal
	ExecutedAt  time.Time
}

// LimitResult is the outcome of a placed pending order.
type LimitResult struct {
	Ticket   int64
	PlacedAt time.Time
}

// CloseResult is the outcome of closing an open position.
type CloseResult struct {
	ClosePrice decimal.Decimal
	ProfitLoss decimal.Decimal
	ClosedAt   time.Time
}

// Position is one open position as the terminal reports it.
type Position struct {
	Ticket       int64
	Symbol       string
	Volume       decimal.Decimal
	Side         model.Side
	PriceOpen    decimal.Decimal
	PriceCurrent decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	Profit       decimal.Decimal
	Comment      string
}

// Deal is one historical deal record. The synchronizer asks for the closing
// deal of a ticket that vanished from the open-positions list.
type Deal struct {
	Ticket int64
	Price  decimal.Decimal
	Profit decimal.Decimal
	Time   time.Time
}

// AccountInfo is the terminal account snapshot.
type AccountInfo struct {
	Login      int64
	Balance    decimal.Decimal
	Equity     decimal.Decimal
	Margin     decimal.Decimal
	MarginFree decimal.Decimal
	Currency   string
	Leverage   int
}

// Session is one live terminal login. All calls on a session are serialized
// by the adapter; callers never coordinate among themselves.
type Session interface {
	MarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	LimitOrder(ctx context.Context, req LimitRequest) (*LimitResult, error)
	ClosePosition(ctx context.Context, symbol string, ticket int64) (*CloseResult, error)
	ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit *decimal.Decimal) error
	Quote(ctx context.Context, symbol string) (*Quote, error)
	ListPositions(ctx context.Context, symbol string) ([]Position, error)
	HistoryDeal(ctx context.Context, ticket int64) (*Deal, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)
}

// Adapter hands out sessions. Connect is idempotent per (login, server):
// reconnecting with the same pair returns the existing session.
type Adapter interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
	Disconnect()
}
