package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/hub"
	"signalbridge/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memStore struct {
	mu       sync.Mutex
	execs    map[uuid.UUID]*model.Execution
	accounts map[uuid.UUID]*model.BrokerAccount
	scanErr  error
}

func newMemStore() *memStore {
	return &memStore{
		execs:    make(map[uuid.UUID]*model.Execution),
		accounts: make(map[uuid.UUID]*model.BrokerAccount),
	}
}

func (m *memStore) ExecutionsInState(_ context.Context, state model.ExecState) ([]model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []model.Execution
	for _, e := range m.execs {
		if e.State == state {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) BrokerAccountByID(_ context.Context, id uuid.UUID) (*model.BrokerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("broker account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateExecutionProfit(_ context.Context, id uuid.UUID, profit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.ProfitLoss = &profit
	return nil
}

func (m *memStore) RecordExecutionClose(_ context.Context, id uuid.UUID, closePrice, profit decimal.Decimal, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.State = model.ExecClosed
	e.ClosePrice = &closePrice
	e.ProfitLoss = &profit
	e.CloseTime = &closedAt
	return nil
}

func (m *memStore) get(t *testing.T, id uuid.UUID) *model.Execution {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		t.Fatalf("execution %s not found", id)
	}
	cp := *e
	return &cp
}

type staticCreds struct{}

func (staticCreds) BrokerCredentials(context.Context, uuid.UUID, uuid.UUID) (map[model.CredentialType]string, error) {
	return map[model.CredentialType]string{model.CredPassword: "secret"}, nil
}

type memSettler struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (s *memSettler) SettleSignal(_ context.Context, signalID, _ uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, signalID)
}

func (s *memSettler) settled(signalID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.calls {
		if id == signalID {
			return true
		}
	}
	return false
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ uuid.UUID, event string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *memNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev == event {
			c++
		}
	}
	return c
}

type fakeSession struct {
	mu        sync.Mutex
	positions []broker.Position
	deals     map[int64]*broker.Deal
	listErr   error
	listCalls int
}

func (s *fakeSession) MarketOrder(context.Context, broker.OrderRequest) (*broker.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeSession) LimitOrder(context.Context, broker.LimitRequest) (*broker.LimitResult, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeSession) ClosePosition(context.Context, string, int64) (*broker.CloseResult, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeSession) ModifyPosition(context.Context, int64, *decimal.Decimal, *decimal.Decimal) error {
	return errors.New("not implemented")
}

func (s *fakeSession) Quote(context.Context, string) (*broker.Quote, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeSession) ListPositions(context.Context, string) ([]broker.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.positions, nil
}

func (s *fakeSession) HistoryDeal(_ context.Context, ticket int64) (*broker.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deals[ticket], nil
}

func (s *fakeSession) AccountInfo(context.Context) (*broker.AccountInfo, error) {
	return &broker.AccountInfo{}, nil
}

type fakeAdapter struct {
	session  *fakeSession
	connects int
}

func (a *fakeAdapter) Connect(context.Context, broker.Credentials) (broker.Session, error) {
	a.connects++
	return a.session, nil
}

func (a *fakeAdapter) Disconnect() {}

type harness struct {
	sync     *Synchronizer
	store    *memStore
	notify   *memNotifier
	settler  *memSettler
	adapter  *fakeAdapter
	session  *fakeSession
	brokerID uuid.UUID
	userID   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newMemStore()
	session := &fakeSession{deals: make(map[int64]*broker.Deal)}
	adapter := &fakeAdapter{session: session}
	notify := &memNotifier{}
	settler := &memSettler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(st, adapter, staticCreds{}, settler, notify, time.Second, logger)

	userID := uuid.New()
	brokerID := uuid.New()
	st.accounts[brokerID] = &model.BrokerAccount{
		ID: brokerID, UserID: userID, BrokerName: "demo", Login: "100", Server: "Demo-Server",
	}
	return &harness{
		sync: s, store: st, notify: notify, settler: settler,
		adapter: adapter, session: session, brokerID: brokerID, userID: userID,
	}
}

func (h *harness) seedExecution(ticket int64) *model.Execution {
	e := &model.Execution{
		ID:              uuid.New(),
		UserID:          h.userID,
		SignalID:        uuid.New(),
		BrokerAccountID: h.brokerID,
		Symbol:          "EURUSD",
		Side:            model.SideBuy,
		Volume:          d("0.10"),
		Ticket:          &ticket,
		State:           model.ExecExecuted,
	}
	h.store.mu.Lock()
	h.store.execs[e.ID] = e
	h.store.mu.Unlock()
	return e
}

func TestTickRefreshesOpenPositions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.seedExecution(7001)
	h.session.positions = []broker.Position{
		{Ticket: 7001, Symbol: "EURUSD", Profit: d("12.30"), PriceCurrent: d("1.1050")},
	}

	h.sync.Tick(context.Background())

	got := h.store.get(t, e.ID)
	if got.State != model.ExecExecuted {
		t.Errorf("state = %s, want %s", got.State, model.ExecExecuted)
	}
	if got.ProfitLoss == nil || !got.ProfitLoss.Equal(d("12.30")) {
		t.Errorf("profit = %v, want 12.30", got.ProfitLoss)
	}
	if n := h.notify.count(hub.EventPositionUpdate); n != 1 {
		t.Errorf("position_update events = %d, want 1", n)
	}
	if h.settler.settled(e.SignalID) {
		t.Error("open position must not settle the signal")
	}
}

func TestTickClosesVanishedPosition(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.seedExecution(7002)
	// Ticket gone from the open list, closing deal present in history.
	h.session.deals[7002] = &broker.Deal{
		Ticket: 7002,
		Price:  d("1.1230"),
		Profit: d("42.5"),
		Time:   time.Now(),
	}

	h.sync.Tick(context.Background())

	got := h.store.get(t, e.ID)
	if got.State != model.ExecClosed {
		t.Fatalf("state = %s, want %s", got.State, model.ExecClosed)
	}
	if got.ClosePrice == nil || !got.ClosePrice.Equal(d("1.1230")) {
		t.Errorf("close price = %v, want 1.1230", got.ClosePrice)
	}
	if got.ProfitLoss == nil || !got.ProfitLoss.Equal(d("42.5")) {
		t.Errorf("profit = %v, want 42.5", got.ProfitLoss)
	}
	if n := h.notify.count(hub.EventPositionClosed); n != 1 {
		t.Errorf("position_closed events = %d, want 1", n)
	}
	if !h.settler.settled(e.SignalID) {
		t.Error("closure must settle the parent signal")
	}
}

func TestTickLeavesVanishedTicketWithoutDeal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.seedExecution(7003)
	// Ticket absent from both lists: the closing deal has not landed in
	// history yet, so wait for a later tick.
	h.sync.Tick(context.Background())

	got := h.store.get(t, e.ID)
	if got.State != model.ExecExecuted {
		t.Errorf("state = %s, want %s while the deal is missing", got.State, model.ExecExecuted)
	}
	if h.settler.settled(e.SignalID) {
		t.Error("signal must not settle without a closing deal")
	}
}

func TestTickGroupsExecutionsByAccount(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedExecution(7004)
	h.seedExecution(7005)
	h.session.positions = []broker.Position{
		{Ticket: 7004, Profit: d("1")},
		{Ticket: 7005, Profit: d("2")},
	}

	h.sync.Tick(context.Background())

	// Same account: one connect, one positions snapshot.
	if h.adapter.connects != 1 {
		t.Errorf("connects = %d, want 1", h.adapter.connects)
	}
	if h.session.listCalls != 1 {
		t.Errorf("position list calls = %d, want 1", h.session.listCalls)
	}
}

func TestTickSurvivesScanFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.scanErr = errors.New("database offline")

	// Must not panic and must not touch the broker.
	h.sync.Tick(context.Background())
	if h.adapter.connects != 0 {
		t.Errorf("connects = %d, want 0", h.adapter.connects)
	}
}

func TestTickSurvivesListFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.seedExecution(7006)
	h.session.listErr = errors.New("bridge timeout")

	h.sync.Tick(context.Background())

	got := h.store.get(t, e.ID)
	if got.State != model.ExecExecuted {
		t.Errorf("state = %s, want unchanged %s", got.State, model.ExecExecuted)
	}
}
