package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/model"
)

func TestPlanOrderEntryRange(t *testing.T) {
	t.Parallel()

	prefs := model.DefaultPreferences(uuid.Nil)
	rangeExt := model.Extraction{
		EntryRange: []decimal.Decimal{d("1.1000"), d("1.1050")},
	}

	cases := []struct {
		name      string
		side      model.Side
		bid, ask  string
		market    bool
		restPrice string // limit price when not market
	}{
		{name: "buy ask inside range goes market", side: model.SideBuy, bid: "1.1018", ask: "1.1020", market: true},
		{name: "buy ask at high edge goes market", side: model.SideBuy, bid: "1.1048", ask: "1.1050", market: true},
		{name: "buy ask above range rests at high", side: model.SideBuy, bid: "1.1078", ask: "1.1080", restPrice: "1.1050"},
		{name: "sell bid inside range goes market", side: model.SideSell, bid: "1.1020", ask: "1.1022", market: true},
		{name: "sell bid at low edge goes market", side: model.SideSell, bid: "1.1000", ask: "1.1002", market: true},
		{name: "sell bid below range rests at low", side: model.SideSell, bid: "1.0980", ask: "1.0982", restPrice: "1.1000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := &broker.Quote{Bid: d(tc.bid), Ask: d(tc.ask), Point: d("0.00001"), Digits: 5}
			plan := planOrder(tc.side, rangeExt, &prefs, q)
			if plan.market != tc.market {
				t.Fatalf("market = %v, want %v", plan.market, tc.market)
			}
			if !tc.market {
				if plan.limitPrice == nil || !plan.limitPrice.Equal(d(tc.restPrice)) {
					t.Fatalf("limit price = %v, want %s", plan.limitPrice, tc.restPrice)
				}
			}
			if plan.plannedEntry == nil {
				t.Fatal("planned entry must always be set for a ranged entry")
			}
		})
	}
}

func TestPlanOrderSlippageBudget(t *testing.T) {
	t.Parallel()

	prefs := &model.Preferences{
		UseLimitOrders:  true,
		MaxSlippagePips: decimal.NewFromInt(5),
	}
	entry := dp("1.1000")
	ext := model.Extraction{Entry: entry}

	// 5-digit symbol: pip = 0.0001, budget = 0.0005.
	cases := []struct {
		name   string
		side   model.Side
		bid    string
		ask    string
		market bool
	}{
		{name: "buy within budget", side: model.SideBuy, bid: "1.1002", ask: "1.1004", market: true},
		{name: "buy at budget edge", side: model.SideBuy, bid: "1.1003", ask: "1.1005", market: true},
		{name: "buy beyond budget waits", side: model.SideBuy, bid: "1.1004", ask: "1.1006", market: false},
		{name: "sell measures against bid", side: model.SideSell, bid: "1.0994", ask: "1.0996", market: false},
		{name: "sell within budget", side: model.SideSell, bid: "1.0996", ask: "1.0998", market: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := &broker.Quote{Bid: d(tc.bid), Ask: d(tc.ask), Point: d("0.00001"), Digits: 5}
			plan := planOrder(tc.side, ext, prefs, q)
			if plan.market != tc.market {
				t.Fatalf("market = %v, want %v", plan.market, tc.market)
			}
			if !tc.market && (plan.limitPrice == nil || !plan.limitPrice.Equal(*entry)) {
				t.Fatalf("limit price = %v, want the signalled entry %s", plan.limitPrice, entry)
			}
		})
	}
}

func TestPlanOrderLimitOrdersDisabled(t *testing.T) {
	t.Parallel()

	prefs := &model.Preferences{UseLimitOrders: false, MaxSlippagePips: decimal.NewFromInt(5)}
	q := &broker.Quote{Bid: d("1.2000"), Ask: d("1.2002"), Point: d("0.00001"), Digits: 5}

	// Far from the signalled entry, but limits are off: go market anyway.
	plan := planOrder(model.SideBuy, model.Extraction{Entry: dp("1.1000")}, prefs, q)
	if !plan.market {
		t.Fatal("want market order when limit orders are disabled")
	}
}

func TestQuotePip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		point  string
		digits int
		want   string
	}{
		{name: "five digit fx", point: "0.00001", digits: 5, want: "0.0001"},
		{name: "three digit jpy", point: "0.001", digits: 3, want: "0.01"},
		{name: "two digit metal", point: "0.01", digits: 2, want: "0.01"},
		{name: "four digit fx", point: "0.0001", digits: 4, want: "0.0001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := &broker.Quote{Point: d(tc.point), Digits: tc.digits}
			if got := q.Pip(); !got.Equal(d(tc.want)) {
				t.Fatalf("pip = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExecutionVolume(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		total  string
		levels int
		want   string
	}{
		{name: "single target", total: "1", levels: 1, want: "1"},
		{name: "seven targets", total: "1", levels: 7, want: "0.14"},
		{name: "three targets", total: "0.5", levels: 3, want: "0.17"},
		{name: "clamped to broker minimum", total: "0.01", levels: 4, want: "0.01"},
		{name: "zero levels treated as one", total: "0.3", levels: 0, want: "0.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := executionVolume(d(tc.total), tc.levels)
			if !got.Equal(d(tc.want)) {
				t.Fatalf("volume = %s, want %s", got, tc.want)
			}
		})
	}
}
