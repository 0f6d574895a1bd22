// Package mt5 talks to the terminal bridge, a sidecar process that owns the
// MetaTrader sessions and exposes them over HTTP. One bridge session maps to
// one (login, server) pair; the adapter caches sessions and serializes all
// calls on each one.
package mt5

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/config"
	"signalbridge/internal/model"
)

// Adapter implements broker.Adapter over the bridge HTTP API.
type Adapter struct {
	http   *resty.Client
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds the adapter from broker config.
func New(cfg config.BrokerConfig, logger *slog.Logger) *Adapter {
	client := resty.New().
		SetBaseURL(cfg.BridgeURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Adapter{
		http:     client,
		logger:   logger.With("component", "mt5"),
		sessions: make(map[string]*session),
	}
}

func sessionKey(creds broker.Credentials) string {
	return creds.Login + "@" + creds.Server
}

// Connect opens or reuses the session for (login, server). The bridge call
// itself is idempotent, so reconnecting an existing key is cheap.
func (a *Adapter) Connect(ctx context.Context, creds broker.Credentials) (broker.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := sessionKey(creds)
	if s, ok := a.sessions[key]; ok {
		return s, nil
	}

	var out connectResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"login":    creds.Login,
			"password": creds.Password,
			"server":   creds.Server,
		}).
		SetResult(&out).
		Post("/connect")
	if err != nil {
		return nil, &broker.Error{Message: fmt.Sprintf("connect: %v", err)}
	}
	if resp.IsError() || !out.Connected {
		return nil, &broker.Error{Message: "connect: " + out.LastError}
	}

	s := &session{adapter: a, id: out.SessionID, key: key}
	a.sessions[key] = s
	a.logger.Info("broker session opened", "login", creds.Login, "server", creds.Server)
	return s, nil
}

// Disconnect tears down every cached session. Bridge-side errors are logged
// and otherwise ignored; shutdown must not block on the sidecar.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, s := range a.sessions {
		if _, err := a.http.R().Post("/session/" + s.id + "/disconnect"); err != nil {
			a.logger.Warn("session disconnect failed", "session", key, "error", err)
		}
		delete(a.sessions, key)
	}
}

// session is one live bridge session. mu serializes every terminal call.
type session struct {
	adapter *Adapter
	id      string
	key     string
	mu      sync.Mutex
}

type connectResponse struct {
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id"`
	LastError string `json:"last_error"`
}

// bridgeError is the bridge's uniform failure body.
type bridgeError struct {
	Error   string `json:"error"`
	Retcode int    `json:"retcode"`
}

type orderResponse struct {
	Retcode    int             `json:"retcode"`
	Ticket     int64           `json:"ticket"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

type closeResponse struct {
	Retcode    int             `json:"retcode"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Profit     decimal.Decimal `json:"profit"`
	ClosedAt   time.Time       `json:"closed_at"`
}

type quoteResponse struct {
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	Point    decimal.Decimal `json:"point"`
	Digits   int             `json:"digits"`
	Spread   decimal.Decimal `json:"spread"`
	FillMode int             `json:"filling_mode"`
}

type positionRecord struct {
	Ticket       int64            `json:"ticket"`
	Symbol       string           `json:"symbol"`
	Volume       decimal.Decimal  `json:"volume"`
	Side         string           `json:"side"`
	PriceOpen    decimal.Decimal  `json:"price_open"`
	PriceCurrent decimal.Decimal  `json:"price_current"`
	StopLoss     *decimal.Decimal `json:"sl"`
	TakeProfit   *decimal.Decimal `json:"tp"`
	Profit       decimal.Decimal  `json:"profit"`
	Comment      string           `json:"comment"`
}

type dealRecord struct {
	Ticket int64           `json:"ticket"`
	Price  decimal.Decimal `json:"price"`
	Profit decimal.Decimal `json:"profit"`
	Time   time.Time       `json:"time"`
}

type accountResponse struct {
	Login      int64           `json:"login"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	MarginFree decimal.Decimal `json:"margin_free"`
	Currency   string          `json:"currency"`
	Leverage   int             `json:"leverage"`
}

// call issues one serialized POST against this session's bridge endpoint.
func (s *session) call(ctx context.Context, path string, body, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var apiErr bridgeError
	req := s.adapter.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post("/session/" + s.id + path)
	if err != nil {
		return &broker.Error{Message: fmt.Sprintf("%s: %v", path, err)}
	}
	if resp.IsError() {
		return &broker.Error{Retcode: apiErr.Retcode, Message: apiErr.Error}
	}
	return nil
}

// fillMode picks the order filling policy from the symbol's capability bits.
func fillMode(bits int) string {
	switch {
	case bits&broker.FillFOK != 0:
		return "fok"
	case bits&broker.FillIOC != 0:
		return "ioc"
	default:
		return "return"
	}
}

func (s *session) MarketOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	quote, err := s.Quote(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"symbol":  req.Symbol,
		"side":    string(req.Side),
		"volume":  req.Volume,
		"filling": fillMode(quote.FillMode),
		"comment": req.Comment,
	}
	if req.StopLoss != nil {
		body["sl"] = req.StopLoss
	}
	if req.TakeProfit != nil {
		body["tp"] = req.TakeProfit
	}

	var out orderResponse
	if err := s.call(ctx, "/order/market", body, &out); err != nil {
		return nil, err
	}
	if out.Retcode != broker.RetcodeDone {
		return nil, &broker.Error{Retcode: out.Retcode, Message: "market order rejected"}
	}
	return &broker.OrderResult{
		Ticket:      out.Ticket,
		ActualEntry: out.Price,
		ExecutedAt:  out.ExecutedAt,
	}, nil
}

func (s *session) LimitOrder(ctx context.Context, req broker.LimitRequest) (*broker.LimitResult, error) {
	body := map[string]any{
		"symbol":  req.Symbol,
		"side":    string(req.Side),
		"price":   req.Price,
		"volume":  req.Volume,
		"comment": req.Comment,
	}
	if req.StopLoss != nil {
		body["sl"] = req.StopLoss
	}
	if req.TakeProfit != nil {
		body["tp"] = req.TakeProfit
	}
	if req.Expiration != nil {
		body["expiration"] = req.Expiration.UTC()
	}

	var out orderResponse
	if err := s.call(ctx, "/order/limit", body, &out); err != nil {
		return nil, err
	}
	if out.Retcode != broker.RetcodePlaced && out.Retcode != broker.RetcodeDone {
		return nil, &broker.Error{Retcode: out.Retcode, Message: "limit order rejected"}
	}
	return &broker.LimitResult{Ticket: out.Ticket, PlacedAt: out.ExecutedAt}, nil
}

func (s *session) ClosePosition(ctx context.Context, symbol string, ticket int64) (*broker.CloseResult, error) {
	var out closeResponse
	body := map[string]any{"symbol": symbol, "ticket": ticket}
	if err := s.call(ctx, "/position/close", body, &out); err != nil {
		return nil, err
	}
	if out.Retcode != broker.RetcodeDone {
		return nil, &broker.Error{Retcode: out.Retcode, Message: "close rejected"}
	}
	return &broker.CloseResult{
		ClosePrice: out.ClosePrice,
		ProfitLoss: out.Profit,
		ClosedAt:   out.ClosedAt,
	}, nil
}

func (s *session) ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit *decimal.Decimal) error {
	body := map[string]any{"ticket": ticket}
	if stopLoss != nil {
		body["sl"] = stopLoss
	}
	if takeProfit != nil {
		body["tp"] = takeProfit
	}

	var out orderResponse
	if err := s.call(ctx, "/position/modify", body, &out); err != nil {
		return err
	}
	if out.Retcode != broker.RetcodeDone {
		return &broker.Error{Retcode: out.Retcode, Message: "modify rejected"}
	}
	return nil
}

func (s *session) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	var out quoteResponse
	if err := s.call(ctx, "/quote", map[string]string{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	return &broker.Quote{
		Bid:      out.Bid,
		Ask:      out.Ask,
		Point:    out.Point,
		Digits:   out.Digits,
		Spread:   out.Spread,
		FillMode: out.FillMode,
	}, nil
}

func (s *session) ListPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	body := map[string]string{}
	if symbol != "" {
		body["symbol"] = symbol
	}

	var out []positionRecord
	if err := s.call(ctx, "/positions", body, &out); err != nil {
		// Contract: an unreadable positions list reads as empty, the
		// synchronizer retries next tick.
		s.adapter.logger.Warn("list positions failed", "session", s.key, "error", err)
		return nil, nil
	}

	positions := make([]broker.Position, 0, len(out))
	for _, p := range out {
		side, err := model.ParseSide(p.Side)
		if err != nil {
			s.adapter.logger.Warn("skipping position with unknown side", "ticket", p.Ticket, "side", p.Side)
			continue
		}
		positions = append(positions, broker.Position{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Volume:       p.Volume,
			Side:         side,
			PriceOpen:    p.PriceOpen,
			PriceCurrent: p.PriceCurrent,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Profit:       p.Profit,
			Comment:      p.Comment,
		})
	}
	return positions, nil
}

func (s *session) HistoryDeal(ctx context.Context, ticket int64) (*broker.Deal, error) {
	var out []dealRecord
	if err := s.call(ctx, "/history/deals", map[string]int64{"ticket": ticket}, &out); err != nil {
		return nil, nil
	}
	if len(out) == 0 {
		return nil, nil
	}

	// The closing deal is the last one recorded for the ticket.
	last := out[len(out)-1]
	return &broker.Deal{
		Ticket: last.Ticket,
		Price:  last.Price,
		Profit: last.Profit,
		Time:   last.Time,
	}, nil
}

func (s *session) AccountInfo(ctx context.Context) (*broker.AccountInfo, error) {
	var out accountResponse
	if err := s.call(ctx, "/account", nil, &out); err != nil {
		return nil, err
	}
	return &broker.AccountInfo{
		Login:      out.Login,
		Balance:    out.Balance,
		Equity:     out.Equity,
		Margin:     out.Margin,
		MarginFree: out.MarginFree,
		Currency:   out.Currency,
		Leverage:   out.Leverage,
	}, nil
}
