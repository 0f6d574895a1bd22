package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

type memSender struct {
	mu    sync.Mutex
	sent  map[string]string // address -> text
	fail  map[string]bool
	calls int
}

func newMemSender() *memSender {
	return &memSender{sent: make(map[string]string), fail: make(map[string]bool)}
}

func (s *memSender) SendMessage(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[to] {
		return errors.New("chat not found")
	}
	s.sent[to] = text
	return nil
}

type memSubscribers struct {
	subs map[uuid.UUID][]model.Subscriber
	err  error
}

func (m *memSubscribers) ActiveSubscribersForUser(_ context.Context, userID uuid.UUID) ([]model.Subscriber, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.subs[userID], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatSignal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ext  model.Extraction
		want string
	}{
		{
			name: "full signal with tp ladder",
			ext: model.Extraction{
				Symbol:      "XAUUSD",
				Side:        model.SideBuy,
				Entry:       dp("2350.5"),
				StopLoss:    dp("2344"),
				TakeProfits: []decimal.Decimal{decimal.RequireFromString("2355"), decimal.RequireFromString("2360")},
			},
			want: "BUY XAUUSD\nEntry: 2350.5\nSL: 2344\nTP1: 2355\nTP2: 2360",
		},
		{
			name: "entry range",
			ext: model.Extraction{
				Symbol:     "EURUSD",
				Side:       model.SideSell,
				EntryRange: []decimal.Decimal{decimal.RequireFromString("1.085"), decimal.RequireFromString("1.087")},
				StopLoss:   dp("1.09"),
			},
			want: "SELL EURUSD\nEntry: 1.085 - 1.087\nSL: 1.09",
		},
		{
			name: "single take profit without ladder",
			ext: model.Extraction{
				Symbol:     "GBPUSD",
				Side:       model.SideBuy,
				Entry:      dp("1.27"),
				TakeProfit: dp("1.28"),
			},
			want: "BUY GBPUSD\nEntry: 1.27\nTP: 1.28",
		},
		{
			name: "no side falls back to neutral header",
			ext:  model.Extraction{Symbol: "USDJPY", Entry: dp("148")},
			want: "SIGNAL USDJPY\nEntry: 148",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sig := &model.Signal{Extracted: tc.ext}
			if got := FormatSignal(sig); got != tc.want {
				t.Fatalf("FormatSignal = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestForwardSendsToEveryActiveSubscriber(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sender := newMemSender()
	subs := &memSubscribers{subs: map[uuid.UUID][]model.Subscriber{
		userID: {
			{Address: "-100555", IsActive: true},
			{Address: "@copytrades", IsActive: true},
		},
	}}
	f := NewForwarder(sender, subs, discard())

	sig := &model.Signal{
		UserID: userID,
		Extracted: model.Extraction{
			Symbol: "EURUSD", Side: model.SideBuy, Entry: dp("1.1"),
		},
	}
	f.Forward(context.Background(), sig)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", len(sender.sent))
	}
	for addr, text := range sender.sent {
		if text != "BUY EURUSD\nEntry: 1.1" {
			t.Errorf("subscriber %s got %q", addr, text)
		}
	}
}

func TestForwardSurvivesOneUnreachableSubscriber(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sender := newMemSender()
	sender.fail["@dead"] = true
	subs := &memSubscribers{subs: map[uuid.UUID][]model.Subscriber{
		userID: {
			{Address: "@dead", IsActive: true},
			{Address: "@alive", IsActive: true},
		},
	}}
	f := NewForwarder(sender, subs, discard())

	f.Forward(context.Background(), &model.Signal{
		UserID:    userID,
		Extracted: model.Extraction{Symbol: "EURUSD", Side: model.SideBuy},
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if _, ok := sender.sent["@alive"]; !ok {
		t.Error("reachable subscriber must still receive the signal")
	}
}

func TestForwardWithoutSenderIsNoop(t *testing.T) {
	t.Parallel()

	subs := &memSubscribers{err: errors.New("must not be called")}
	f := NewForwarder(nil, subs, discard())

	// Must not panic or touch the subscriber source.
	f.Forward(context.Background(), &model.Signal{UserID: uuid.New()})
}

func TestForwardNoSubscribersSendsNothing(t *testing.T) {
	t.Parallel()

	sender := newMemSender()
	f := NewForwarder(sender, &memSubscribers{subs: map[uuid.UUID][]model.Subscriber{}}, discard())

	f.Forward(context.Background(), &model.Signal{UserID: uuid.New()})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 0 {
		t.Errorf("send calls = %d, want 0", sender.calls)
	}
}
