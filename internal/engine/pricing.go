package engine

import (
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/model"
)

// orderPlan is the pricing decision for one execution: market now, or a
// pending limit at limitPrice. plannedEntry feeds the market-to-limit
// fallback when a market order is rejected.
type orderPlan struct {
	market       bool
	limitPrice   *decimal.Decimal
	plannedEntry *decimal.Decimal
}

// planOrder applies the entry pricing policy against a live quote.
//
// With an entry range the range edge nearest the market decides: a buy goes
// market while the ask is still inside the range, otherwise a limit waits at
// the high edge; sells mirror at the low edge. With a single entry and limit
// orders enabled, the slippage budget in pips decides between market and a
// limit at the entry. Anything else is a market order at the prevailing price.
func planOrder(side model.Side, ext model.Extraction, prefs *model.Preferences, q *broker.Quote) orderPlan {
	if len(ext.EntryRange) == 2 {
		low, high := ext.EntryRange[0], ext.EntryRange[1]
		if side == model.SideBuy {
			if q.Ask.LessThanOrEqual(high) {
				return orderPlan{market: true, plannedEntry: &high}
			}
			return orderPlan{limitPrice: &high, plannedEntry: &high}
		}
		if q.Bid.GreaterThanOrEqual(low) {
			return orderPlan{market: true, plannedEntry: &low}
		}
		return orderPlan{limitPrice: &low, plannedEntry: &low}
	}

	if prefs.UseLimitOrders && ext.Entry != nil {
		current := q.Ask
		if side == model.SideSell {
			current = q.Bid
		}
		budget := prefs.MaxSlippagePips.Mul(q.Pip())
		if current.Sub(*ext.Entry).Abs().GreaterThan(budget) {
			return orderPlan{limitPrice: ext.Entry, plannedEntry: ext.Entry}
		}
		return orderPlan{market: true, plannedEntry: ext.Entry}
	}

	return orderPlan{market: true, plannedEntry: ext.Entry}
}

// executionVolume splits the configured total volume across the TP levels,
// rounded to lot precision and clamped at the broker minimum.
func executionVolume(riskPerTrade decimal.Decimal, levels int) decimal.Decimal {
	if levels < 1 {
		levels = 1
	}
	v := riskPerTrade.Div(decimal.NewFromInt(int64(levels))).Round(2)
	if v.LessThan(model.MinVolume) {
		return model.MinVolume
	}
	return v
}
