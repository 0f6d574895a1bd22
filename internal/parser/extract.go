package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// price token: 1-7 integer digits, up to 5 decimals, word-bounded so digits
// embedded in labels (TP1, US30) never read as prices.
const priceTok = `\b\d{1,7}(?:\.\d{1,5})?\b`

var (
	priceTokRe = regexp.MustCompile(priceTok)

	// "/" is deliberately not a range separator so that slash-written
	// take-profit lists never read as an entry range.
	entryRangeRe = regexp.MustCompile(
		`(?:entry|enter|open|@|at|price|buy|sell)?[:\s]*(` + priceTok + `)\s*(?:-|–|—|to)\s*(` + priceTok + `)`)

	entrySingleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:entry|enter|open|initial|@|at|price)[:\s]*(` + priceTok + `)`),
		regexp.MustCompile(`(?:buy|sell)\s+(?:[a-z0-9/]{2,12}\s+)?(` + priceTok + `)`),
	}

	stopLossRe = regexp.MustCompile(`(?:sl|stop\s*loss|stoploss|stop|risk)[:\s]*(` + priceTok + `)`)

	tpLabelRe = regexp.MustCompile(
		`(?:tp|take\s*profit|target)\s*\d*\s*(?:open|at|target)?[:\s]*(` + priceTok + `)`)

	tpListRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:tp|take\s*profit|target)s?[:\s]*(` + priceTok + `(?:\s*[/|]\s*` + priceTok + `)*)`),
		regexp.MustCompile(`\(\s*(` + priceTok + `(?:\s*[/|]\s*` + priceTok + `)*)\s*\)`),
	}

	tpSingleRe = regexp.MustCompile(`(?:tp|take\s*profit|target)[:\s]*(` + priceTok + `)`)
)

// priceLevels is the raw output of the price extractor before it is folded
// into a model.Extraction.
type priceLevels struct {
	entry       *decimal.Decimal
	entryRange  []decimal.Decimal // [low, high] when present
	stopLoss    *decimal.Decimal
	takeProfit  *decimal.Decimal
	takeProfits []decimal.Decimal
}

func mustDec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// extractPrices pulls entry, stop loss and take-profit levels from the text.
// The fallback scan at the end assigns leftover "significant" tokens to still
// missing fields in entry → SL → TP order, matching how channel authors write
// bare price ladders.
func extractPrices(text string) priceLevels {
	var p priceLevels
	lower := strings.ToLower(text)

	// Entry range, e.g. "4605.5 – 4601.5" or "2030 to 2035".
	if m := entryRangeRe.FindStringSubmatch(lower); m != nil {
		a, b := mustDec(m[1]), mustDec(m[2])
		if a.IsPositive() && b.IsPositive() {
			ratio := a.Div(b)
			if ratio.GreaterThan(decimal.NewFromFloat(0.5)) && ratio.LessThan(decimal.NewFromInt(2)) {
				low, high := a, b
				if low.GreaterThan(high) {
					low, high = high, low
				}
				p.entryRange = []decimal.Decimal{low, high}
				p.entry = &low
			}
		}
	}

	if p.entry == nil {
		for _, re := range entrySingleRes {
			if m := re.FindStringSubmatch(lower); m != nil {
				v := mustDec(m[1])
				p.entry = &v
				break
			}
		}
	}

	if m := stopLossRe.FindStringSubmatch(lower); m != nil {
		v := mustDec(m[1])
		p.stopLoss = &v
	}

	// Every price token following a TP label.
	seen := make(map[string]bool)
	addTP := func(v decimal.Decimal) {
		key := v.String()
		if !seen[key] {
			seen[key] = true
			p.takeProfits = append(p.takeProfits, v)
		}
	}
	for _, m := range tpLabelRe.FindAllStringSubmatch(lower, -1) {
		addTP(mustDec(m[1]))
	}

	// Price lists after a TP label or inside parentheses: "(4594 / 4592 / 4588)".
	for _, re := range tpListRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			for _, tok := range priceTokRe.FindAllString(m[1], -1) {
				addTP(mustDec(tok))
			}
		}
	}

	if len(p.takeProfits) > 0 {
		p.takeProfit = &p.takeProfits[0]
	} else if m := tpSingleRe.FindStringSubmatch(lower); m != nil {
		v := mustDec(m[1])
		p.takeProfit = &v
		addTP(v)
	}

	p.fallbackScan(text)

	if p.takeProfit == nil && len(p.takeProfits) > 0 {
		p.takeProfit = &p.takeProfits[0]
	}
	return p
}

// fallbackScan fills still-missing fields from unassigned significant tokens:
// value > 10, or within [0.5x, 2x] of the entry.
func (p *priceLevels) fallbackScan(text string) {
	assigned := make(map[string]bool)
	mark := func(d *decimal.Decimal) {
		if d != nil {
			assigned[d.String()] = true
		}
	}
	mark(p.entry)
	mark(p.stopLoss)
	for i := range p.entryRange {
		mark(&p.entryRange[i])
	}
	for i := range p.takeProfits {
		mark(&p.takeProfits[i])
	}

	ten := decimal.NewFromInt(10)
	var significant []decimal.Decimal
	for _, tok := range priceTokRe.FindAllString(text, -1) {
		v := mustDec(tok)
		if v.GreaterThan(ten) {
			significant = append(significant, v)
			continue
		}
		if p.entry != nil && p.entry.IsPositive() {
			ratio := v.Div(*p.entry)
			if ratio.GreaterThan(decimal.NewFromFloat(0.5)) && ratio.LessThan(decimal.NewFromInt(2)) {
				significant = append(significant, v)
			}
		}
	}

	var remaining []decimal.Decimal
	for _, v := range significant {
		if !assigned[v.String()] {
			remaining = append(remaining, v)
		}
	}

	if p.entry == nil && len(significant) > 0 {
		v := significant[0]
		p.entry = &v
		if len(remaining) > 0 && remaining[0].Equal(v) {
			remaining = remaining[1:]
		}
	}

	if p.stopLoss == nil && len(remaining) > 0 {
		v := remaining[0]
		p.stopLoss = &v
		remaining = remaining[1:]
	}

	seen := make(map[string]bool)
	for _, v := range p.takeProfits {
		seen[v.String()] = true
	}
	for _, v := range remaining {
		if !seen[v.String()] {
			seen[v.String()] = true
			p.takeProfits = append(p.takeProfits, v)
		}
	}
}
