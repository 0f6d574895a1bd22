// Package parser turns free-text trading messages into structured trade
// intents. Classification and extraction are pure functions of the input
// text: no I/O, no suspension, same output for the same message every time.
//
// An optional language-model path can be configured; its JSON output is
// mapped onto the same Extraction shape and any failure falls back to the
// heuristics, so downstream validation is identical either way.
package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"signalbridge/internal/model"
)

// Parser classifies and extracts trading messages.
type Parser struct {
	llm    *LLMClient // nil when no API key is configured
	logger *slog.Logger
}

// New creates a parser. llm may be nil.
func New(llm *LLMClient, logger *slog.Logger) *Parser {
	return &Parser{llm: llm, logger: logger.With("component", "parser")}
}

// Parse produces the extraction for one message. The category decision is
// always heuristic; when an LLM is configured its field extraction is
// preferred, with the heuristic extractor as the fallback on any failure.
func (p *Parser) Parse(ctx context.Context, text string) model.Extraction {
	category, modType := Classify(text)

	var ext model.Extraction
	if p.llm != nil {
		if llmExt, err := p.llm.extract(ctx, text); err == nil {
			ext = *llmExt
		} else {
			p.logger.Warn("llm extraction failed, using heuristics", "error", err)
			ext = Extract(text)
		}
	} else {
		ext = Extract(text)
	}

	ext.Category = category
	ext.ModificationType = modType
	return ext
}

// Extract is the pure heuristic extractor. It never consults the network.
func Extract(text string) model.Extraction {
	side := determineSide(text)
	symbol := resolveSymbol(text)
	prices := extractPrices(text)

	ext := model.Extraction{
		Symbol:      symbol,
		Side:        side,
		Entry:       prices.entry,
		EntryRange:  prices.entryRange,
		StopLoss:    prices.stopLoss,
		TakeProfit:  prices.takeProfit,
		TakeProfits: prices.takeProfits,
		Method:      "heuristic",
	}
	ext.Confidence = confidence(ext, text)
	return ext
}

var buyWords = []string{"buy", "long", "go long", "bullish", "upside"}
var sellWords = []string{"sell", "short", "go short", "bearish", "downside"}

func determineSide(text string) model.Side {
	normalized := strings.ToLower(text)
	for _, w := range buyWords {
		if strings.Contains(normalized, w) {
			return model.SideBuy
		}
	}
	for _, w := range sellWords {
		if strings.Contains(normalized, w) {
			return model.SideSell
		}
	}
	return ""
}

// confidence scores how complete the extraction is: base 0.5, +0.15 for a
// resolved side, +0.15 for a symbol, +0.10 each for entry/SL/TP, ±0.05 for
// message length, x0.7 when symbol or side is missing. Clamped to [0, 1].
func confidence(ext model.Extraction, text string) decimal.Decimal {
	c := decimal.NewFromFloat(0.5)
	step := func(f float64) { c = c.Add(decimal.NewFromFloat(f)) }

	if ext.Side != "" {
		step(0.15)
	}
	if ext.Symbol != "" {
		step(0.15)
	}
	if ext.Entry != nil || len(ext.EntryRange) == 2 {
		step(0.10)
	}
	if ext.StopLoss != nil {
		step(0.10)
	}
	if ext.TakeProfit != nil {
		step(0.10)
	}

	if len(text) > 50 {
		step(0.05)
	}
	if len(text) < 10 {
		step(-0.20)
	}

	if ext.Symbol == "" || ext.Side == "" {
		c = c.Mul(decimal.NewFromFloat(0.7))
	}

	one := decimal.NewFromInt(1)
	if c.GreaterThan(one) {
		return one
	}
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}
