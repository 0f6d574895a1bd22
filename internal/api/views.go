package api

import (
	"time"

	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

// View shapes returned by the API. IDs render as strings, times as RFC 3339,
// decimals through their JSON marshaller.

type brokerConfigView struct {
	ID         string `json:"id"`
	BrokerName string `json:"broker_name"`
	Login      string `json:"login"`
	Server     string `json:"server"`
	CreatedAt  string `json:"created_at"`
}

func viewBrokerConfig(a *model.BrokerAccount) brokerConfigView {
	return brokerConfigView{
		ID:         a.ID.String(),
		BrokerName: a.BrokerName,
		Login:      a.Login,
		Server:     a.Server,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	}
}

type channelView struct {
	ID        string `json:"id"`
	ChannelID int64  `json:"channel_id"`
	Label     string `json:"label"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

func viewChannel(c *model.ChannelSubscription) channelView {
	return channelView{
		ID:        c.ID.String(),
		ChannelID: c.ChannelID,
		Label:     c.Label,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

type subscriberView struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Label     string `json:"label"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

func viewSubscriber(s *model.Subscriber) subscriberView {
	return subscriberView{
		ID:        s.ID.String(),
		Address:   s.Address,
		Label:     s.Label,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

type signalView struct {
	ID          string           `json:"id"`
	ChannelID   string           `json:"channel_id"`
	RawText     string           `json:"raw_text"`
	Extracted   model.Extraction `json:"extracted"`
	Category    string           `json:"category"`
	Actionable  bool             `json:"actionable"`
	Status      string           `json:"status"`
	ReceivedAt  string           `json:"received_at"`
	ProcessedAt *string          `json:"processed_at,omitempty"`
}

func viewSignal(sig *model.Signal) signalView {
	v := signalView{
		ID:         sig.ID.String(),
		ChannelID:  sig.ChannelID.String(),
		RawText:    sig.RawText,
		Extracted:  sig.Extracted,
		Category:   string(sig.Category),
		Actionable: sig.Actionable,
		Status:     string(sig.Status),
		ReceivedAt: sig.ReceivedAt.Format(time.RFC3339),
	}
	if sig.ProcessedAt != nil {
		t := sig.ProcessedAt.Format(time.RFC3339)
		v.ProcessedAt = &t
	}
	return v
}

type executionView struct {
	ID          string           `json:"id"`
	SignalID    string           `json:"signal_id"`
	BrokerID    string           `json:"broker_config_id"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Volume      decimal.Decimal  `json:"volume"`
	EntryPrice  *decimal.Decimal `json:"entry_price,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	ActualEntry *decimal.Decimal `json:"actual_entry,omitempty"`
	ClosePrice  *decimal.Decimal `json:"close_price,omitempty"`
	ProfitLoss  *decimal.Decimal `json:"profit_loss,omitempty"`
	Ticket      *int64           `json:"ticket,omitempty"`
	State       string           `json:"state"`
	Error       string           `json:"error,omitempty"`
	ExecutedAt  *string          `json:"executed_at,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

func viewExecution(e *model.Execution) executionView {
	v := executionView{
		ID:          e.ID.String(),
		SignalID:    e.SignalID.String(),
		BrokerID:    e.BrokerAccountID.String(),
		Symbol:      e.Symbol,
		Side:        string(e.Side),
		Volume:      e.Volume,
		EntryPrice:  e.EntryPrice,
		StopLoss:    e.StopLoss,
		TakeProfit:  e.TakeProfit,
		ActualEntry: e.ActualEntry,
		ClosePrice:  e.ClosePrice,
		ProfitLoss:  e.ProfitLoss,
		Ticket:      e.Ticket,
		State:       string(e.State),
		Error:       e.Error,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExecutedAt != nil {
		t := e.ExecutedAt.Format(time.RFC3339)
		v.ExecutedAt = &t
	}
	return v
}

func viewExecutions(execs []model.Execution) []executionView {
	out := make([]executionView, len(execs))
	for i := range execs {
		out[i] = viewExecution(&execs[i])
	}
	return out
}

type settingsView struct {
	ManualApproval   bool            `json:"manual_approval"`
	RiskPerTrade     decimal.Decimal `json:"risk_per_trade"`
	MaxSlippagePips  decimal.Decimal `json:"max_slippage_pips"`
	DefaultSLPips    int             `json:"default_sl_pips"`
	UseLimitOrders   bool            `json:"use_limit_orders"`
	MaxOpenPositions int             `json:"max_open_positions"`
}

func viewSettings(p *model.Preferences) settingsView {
	return settingsView{
		ManualApproval:   p.ManualApproval,
		RiskPerTrade:     p.RiskPerTrade,
		MaxSlippagePips:  p.MaxSlippagePips,
		DefaultSLPips:    p.DefaultSLPips,
		UseLimitOrders:   p.UseLimitOrders,
		MaxOpenPositions: p.MaxOpenPositions,
	}
}

type auditView struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceKind string         `json:"resource_kind"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

func viewAudit(ev *model.AuditEvent) auditView {
	v := auditView{
		ID:           ev.ID.String(),
		Action:       ev.Action,
		ResourceKind: ev.ResourceKind,
		Details:      ev.Details,
		CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
	}
	if ev.ResourceID != nil {
		id := ev.ResourceID.String()
		v.ResourceID = &id
	}
	return v
}
