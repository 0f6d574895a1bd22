package parser

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseGoldSignal(t *testing.T) {
	t.Parallel()
	p := New(nil, quietLogger())
	text := "Sell Gold 4605.5 – 4601.5\nStop Loss 4609.5\nTP1 4600\nTP2 4598\nTP3 4596\nTP4 Open (4594 / 4592 / 4588 / 4583)"

	ext := p.Parse(context.Background(), text)
	if ext.Category != model.CategoryActionable {
		t.Fatalf("category = %q, want actionable_signal", ext.Category)
	}
	if ext.Symbol != "XAUUSD" {
		t.Errorf("symbol = %q, want XAUUSD", ext.Symbol)
	}
	if ext.Side != model.SideSell {
		t.Errorf("side = %q, want sell", ext.Side)
	}
	if len(ext.TakeProfits) != 7 {
		t.Errorf("take profits = %v, want 7 levels", ext.TakeProfits)
	}
	if ext.Method != "heuristic" {
		t.Errorf("method = %q, want heuristic", ext.Method)
	}
	if !ext.Actionable() {
		t.Error("extraction should be actionable")
	}
}

func TestParseCommentaryCarriesNoIntent(t *testing.T) {
	t.Parallel()
	p := New(nil, quietLogger())
	ext := p.Parse(context.Background(), "TP5 HIT\n120+ pips")
	if ext.Category != model.CategoryCommentary {
		t.Fatalf("category = %q, want commentary", ext.Category)
	}
	if ext.Actionable() {
		t.Error("commentary must never be actionable")
	}
}

func TestParseBreakevenModification(t *testing.T) {
	t.Parallel()
	p := New(nil, quietLogger())
	ext := p.Parse(context.Background(), "Managing risk by moving most stops from top to BE")
	if ext.Category != model.CategoryModification {
		t.Fatalf("category = %q, want modification", ext.Category)
	}
	if ext.ModificationType == nil || *ext.ModificationType != model.ModBreakevenMove {
		t.Errorf("modification type = %v, want breakeven_move", ext.ModificationType)
	}
}

func TestConfidenceScoring(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		min  string
		max  string
	}{
		{"complete signal caps at one", "BUY EURUSD\nEntry: 1.0850\nSL: 1.0820\nTP: 1.0900\nManage your lots sensibly", "1", "1"},
		{"missing side penalized", "EURUSD entry 1.0850 SL 1.0820", "0.5", "0.7"},
		{"tiny message penalized", "gold", "0", "0.45"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ext := Extract(tc.text)
			lo := decimal.RequireFromString(tc.min)
			hi := decimal.RequireFromString(tc.max)
			if ext.Confidence.LessThan(lo) || ext.Confidence.GreaterThan(hi) {
				t.Errorf("confidence = %s, want within [%s, %s]", ext.Confidence, tc.min, tc.max)
			}
		})
	}
}

func TestTPLevelsFanOut(t *testing.T) {
	t.Parallel()
	multi := Extract("Sell gold 4605\nSL 4609\nTPs: 4600 / 4598 / 4596")
	if got := len(multi.TPLevels()); got != 3 {
		t.Errorf("fan-out levels = %d, want 3", got)
	}

	var none model.Extraction
	levels := none.TPLevels()
	if len(levels) != 1 || levels[0] != nil {
		t.Errorf("empty extraction fan-out = %v, want one nil level", levels)
	}
}

func TestParseLLMAnswerToleratesProse(t *testing.T) {
	t.Parallel()
	content := "Here is the extraction:\n{\"symbol\": \"XAUUSD\", \"side\": \"sell\", \"entry_price\": 4605.5, \"stop_loss\": 4609.5, \"take_profits\": [4600, 4598]}\nLet me know if you need more."
	f, err := parseLLMAnswer(content)
	if err != nil {
		t.Fatalf("parseLLMAnswer: %v", err)
	}
	ext, err := f.toExtraction("Sell Gold 4605.5, SL 4609.5, TP 4600 / 4598")
	if err != nil {
		t.Fatalf("toExtraction: %v", err)
	}
	if ext.Symbol != "XAUUSD" || ext.Side != model.SideSell {
		t.Errorf("extraction = %+v", ext)
	}
	if len(ext.TakeProfits) != 2 {
		t.Errorf("take profits = %v, want 2 levels", ext.TakeProfits)
	}
	if ext.Method != "llm" {
		t.Errorf("method = %q, want llm", ext.Method)
	}
}

func TestParseLLMAnswerRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := parseLLMAnswer("no json here at all"); err == nil {
		t.Error("prose without JSON should be rejected")
	}
	if _, err := parseLLMAnswer("{broken"); err == nil {
		t.Error("malformed JSON should be rejected")
	}
}
