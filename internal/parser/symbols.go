package parser

import (
	"regexp"
	"strings"
)

// knownSymbols is the closed alphabet of instruments the extractor will
// resolve: major forex pairs, metals, energies, indices and large-cap crypto
// tickers. Broker-side suffix variants (XAUUSDm and friends) are resolved by
// the broker adapter at trade time, never here.
var knownSymbols = []string{
	// metals / energies first so GOLD wins over any embedded pair
	"XAUUSD", "XAGUSD", "XTIUSD", "XBRUSD", "USOIL", "UKOIL",
	"GOLD", "SILVER", "OIL",
	// forex majors and crosses
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "NZDUSD",
	"USDCAD", "EURJPY", "EURGBP", "GBPJPY", "AUDNZD", "AUDCAD", "CADCHF",
	// indices
	"NAS100", "NASDAQ", "US30", "US500", "SPX500", "GER30", "DE30", "DE40",
	"HK30", "JPN225", "DOW",
	// crypto
	"BTCUSD", "ETHUSD", "BTC", "ETH", "XRP", "ADA", "DOT", "SOL",
}

// symbolAliases maps colloquial names to broker instrument names.
var symbolAliases = map[string]string{
	"GOLD":   "XAUUSD",
	"SILVER": "XAGUSD",
	"OIL":    "USOIL",
	"NASDAQ": "NAS100",
	"DOW":    "US30",
	"US500":  "SPX500",
}

// currencyCodes validates the halves of a regex-matched 6-letter pair so that
// arbitrary uppercase words ("BUY NOW") never resolve as instruments.
var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"AUD": true, "NZD": true, "CAD": true, "SGD": true, "SEK": true,
	"NOK": true, "MXN": true, "ZAR": true, "XAU": true, "XAG": true,
	"BTC": true, "ETH": true,
}

var (
	forexPairRe = regexp.MustCompile(`\b([A-Z]{3})[/\s]?([A-Z]{3})\b`)
	cryptoRe    = regexp.MustCompile(`\b(BTC|ETH|XRP|ADA|SOL|DOT)\b`)
)

// resolveSymbol finds the traded instrument named in the text, or "".
func resolveSymbol(text string) string {
	upper := strings.ToUpper(text)

	for _, sym := range knownSymbols {
		if containsWord(upper, sym) {
			if mapped, ok := symbolAliases[sym]; ok {
				return mapped
			}
			return sym
		}
	}

	for _, m := range forexPairRe.FindAllStringSubmatch(upper, -1) {
		if currencyCodes[m[1]] && currencyCodes[m[2]] {
			return m[1] + m[2]
		}
	}

	if m := cryptoRe.FindStringSubmatch(upper); m != nil {
		return m[1]
	}
	return ""
}

// containsWord reports whether sym appears in text bounded by non-alphanumerics.
func containsWord(text, sym string) bool {
	for i := 0; i+len(sym) <= len(text); i++ {
		if text[i:i+len(sym)] != sym {
			continue
		}
		if i > 0 && isWordByte(text[i-1]) {
			continue
		}
		if end := i + len(sym); end < len(text) && isWordByte(text[end]) {
			continue
		}
		return true
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z')
}
