package parser

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decEq(t *testing.T, name string, got *decimal.Decimal, want string) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s = nil, want %s", name, want)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestExtractGoldMultiTarget(t *testing.T) {
	t.Parallel()
	text := "Sell Gold 4605.5 – 4601.5\nStop Loss 4609.5\nTP1 4600\nTP2 4598\nTP3 4596\nTP4 Open (4594 / 4592 / 4588 / 4583)"
	p := extractPrices(text)

	if len(p.entryRange) != 2 {
		t.Fatalf("entry range = %v, want [low, high]", p.entryRange)
	}
	if !p.entryRange[0].Equal(decimal.RequireFromString("4601.5")) ||
		!p.entryRange[1].Equal(decimal.RequireFromString("4605.5")) {
		t.Errorf("entry range = [%s, %s], want [4601.5, 4605.5]", p.entryRange[0], p.entryRange[1])
	}
	decEq(t, "stop loss", p.stopLoss, "4609.5")

	want := []string{"4600", "4598", "4596", "4594", "4592", "4588", "4583"}
	if len(p.takeProfits) != len(want) {
		t.Fatalf("take profits = %v, want %d levels", p.takeProfits, len(want))
	}
	for i, w := range want {
		if !p.takeProfits[i].Equal(decimal.RequireFromString(w)) {
			t.Errorf("take profit %d = %s, want %s", i+1, p.takeProfits[i], w)
		}
	}
}

func TestExtractSingleEntry(t *testing.T) {
	t.Parallel()
	p := extractPrices("BUY EURUSD\nEntry: 1.0850\nSL: 1.0820\nTP: 1.0900")
	decEq(t, "entry", p.entry, "1.0850")
	decEq(t, "stop loss", p.stopLoss, "1.0820")
	decEq(t, "take profit", p.takeProfit, "1.0900")
	if len(p.entryRange) != 0 {
		t.Errorf("entry range = %v, want none", p.entryRange)
	}
}

func TestExtractEntryRangeOrdering(t *testing.T) {
	t.Parallel()
	// The lower bound comes first regardless of how the author wrote it.
	p := extractPrices("Buy GBPUSD 1.2600 - 1.2650\nSL 1.2550\nTP 1.2750")
	if len(p.entryRange) != 2 {
		t.Fatalf("entry range = %v", p.entryRange)
	}
	if !p.entryRange[0].Equal(decimal.RequireFromString("1.2600")) {
		t.Errorf("range low = %s, want 1.2600", p.entryRange[0])
	}
	if !p.entryRange[1].Equal(decimal.RequireFromString("1.2650")) {
		t.Errorf("range high = %s, want 1.2650", p.entryRange[1])
	}
}

func TestExtractRangeRatioGate(t *testing.T) {
	t.Parallel()
	// "1-2" style enumerations are not price ranges.
	p := extractPrices("Day 1 - 200 pips plan for EURUSD, entry 1.0850, SL 1.0800")
	if len(p.entryRange) != 0 {
		t.Errorf("entry range = %v, want none for a disproportionate pair", p.entryRange)
	}
}

func TestExtractTPSlashList(t *testing.T) {
	t.Parallel()
	p := extractPrices("Sell USDJPY at 148.50\nSL 149.20\nTPs: 148.00 / 147.50 / 147.00")
	decEq(t, "entry", p.entry, "148.50")
	if len(p.takeProfits) != 3 {
		t.Fatalf("take profits = %v, want 3 levels", p.takeProfits)
	}
	decEq(t, "first take profit", p.takeProfit, "148.00")
}

func TestExtractFallbackBareLadder(t *testing.T) {
	t.Parallel()
	// No labels at all: significant tokens are assigned entry, SL, TPs in order.
	p := extractPrices("Gold looking heavy 4605 4609 4600 4598")
	decEq(t, "entry", p.entry, "4605")
	decEq(t, "stop loss", p.stopLoss, "4609")
	if len(p.takeProfits) != 2 {
		t.Fatalf("take profits = %v, want 2 levels", p.takeProfits)
	}
	decEq(t, "first take profit", p.takeProfit, "4600")
}

func TestExtractDeduplicatesLevels(t *testing.T) {
	t.Parallel()
	p := extractPrices("Sell gold entry 4605\nTP1 4600\nTP 4600\nSL 4609")
	if len(p.takeProfits) != 1 {
		t.Errorf("take profits = %v, want one deduplicated level", p.takeProfits)
	}
}

func TestExtractIdempotent(t *testing.T) {
	t.Parallel()
	text := "Sell Gold 4605.5 – 4601.5\nStop Loss 4609.5\nTP1 4600\nTP2 4598"
	a := Extract(text)
	b := Extract(text)

	if a.Symbol != b.Symbol || a.Side != b.Side || !a.Confidence.Equal(b.Confidence) {
		t.Error("extraction is not stable across calls")
	}
	if len(a.TakeProfits) != len(b.TakeProfits) {
		t.Fatal("take profit counts differ across calls")
	}
	for i := range a.TakeProfits {
		if !a.TakeProfits[i].Equal(b.TakeProfits[i]) {
			t.Errorf("take profit %d differs across calls", i)
		}
	}
}
