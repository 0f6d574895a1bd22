package parser

import (
	"regexp"
	"strings"

	"signalbridge/internal/model"
)

// Classification order is fixed: commentary screens first so that TP-hit
// announcements quoting prices never read as fresh signals, then
// modifications, then the actionable gate (symbol + price structure),
// then commentary as the default.

var commentaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tp\d+\s*(hit|✅|reached)`),
	regexp.MustCompile(`\d+\+?\s*pips`),
	regexp.MustCompile(`(nfp|cpi|fomc|news)\s*(in|alert)`),
	regexp.MustCompile(`my analysis`),
	regexp.MustCompile(`i (hope|wish|expect)`),
	regexp.MustCompile(`this is not financial advice`),
	regexp.MustCompile(`signal\s*(get ready|coming)`),
}

// modificationPatterns are checked in declaration order; first match wins.
var modificationPatterns = []struct {
	kind     model.ModificationType
	patterns []*regexp.Regexp
}{
	{model.ModBreakevenMove, []*regexp.Regexp{
		regexp.MustCompile(`\b(be|breakeven|break\s*even)\b`),
		regexp.MustCompile(`moving\s*(stops|sl|stop\s*loss)`),
		regexp.MustCompile(`stops?\s*(from|to)\s*(top\s*)?be`),
		regexp.MustCompile(`positions?\s*at\s*be`),
	}},
	{model.ModCancellation, []*regexp.Regexp{
		regexp.MustCompile(`cancell?ing`),
		regexp.MustCompile(`cancel\s*(sell|buy)\s*(limit|stop)`),
		regexp.MustCompile(`delete\s*(order|pending)`),
	}},
	{model.ModPartialClose, []*regexp.Regexp{
		regexp.MustCompile(`partial(ly)?\s*(close|exit)`),
		regexp.MustCompile(`close\s*half`),
		regexp.MustCompile(`(some|few)\s*positions?\s*closed`),
	}},
	{model.ModStopAdjustment, []*regexp.Regexp{
		regexp.MustCompile(`(adjust|move|moving|trail)\s*(stop|sl)\b`),
		regexp.MustCompile(`new\s*(stop|sl)\b`),
	}},
	{model.ModTargetAdjustment, []*regexp.Regexp{
		regexp.MustCompile(`(adjust|move|moving|update)\s*(tp|target)`),
		regexp.MustCompile(`new\s*(tp|target)\b`),
	}},
}

// Classify decides the message category and, for modifications, the sub-kind.
func Classify(text string) (model.Category, *model.ModificationType) {
	normalized := strings.ToLower(text)

	for _, re := range commentaryPatterns {
		if re.MatchString(normalized) {
			return model.CategoryCommentary, nil
		}
	}

	for _, group := range modificationPatterns {
		for _, re := range group.patterns {
			if re.MatchString(normalized) {
				kind := group.kind
				return model.CategoryModification, &kind
			}
		}
	}

	if resolveSymbol(text) != "" && hasPriceStructure(text) {
		return model.CategoryActionable, nil
	}

	return model.CategoryCommentary, nil
}

var (
	rangeProbeRe = regexp.MustCompile(`\d+\.?\d*\s*[-–—]\s*\d+\.?\d*`)
	entryProbeRe = regexp.MustCompile(`(entry|enter|buy|sell)\s*[@:]?\s*(at\s*)?\d+\.?\d+`)
	slProbeRe    = regexp.MustCompile(`(sl|stop\s*loss|stoploss)\s*[@:]?\s*(at\s*)?\d+\.?\d+`)
	tpProbeRe    = regexp.MustCompile(`(tp\d*|take\s*profit|target)\s*[@:]?\s*(at\s*)?\d+\.?\d+`)
)

// hasPriceStructure reports whether the text carries a tradeable shape:
// an entry (single or range) plus at least one of SL or TP.
func hasPriceStructure(text string) bool {
	normalized := strings.ToLower(text)

	hasEntry := rangeProbeRe.MatchString(text) || entryProbeRe.MatchString(normalized)
	if !hasEntry {
		return false
	}
	return slProbeRe.MatchString(normalized) || tpProbeRe.MatchString(normalized)
}
