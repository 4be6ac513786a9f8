package kraken

import (
	"sort"
	"strings"

	"dcabot/pkg/apperrors"
)

// legacyXCohort lists assets that use Kraken's X/Z-prefixed legacy pair
// naming (e.g. BTC/USD -> XXBTZUSD). plainCohort lists assets whose pair
// code is just the asset and quote concatenated. Both tables must be
// reproduced bit-exact per §6.
var legacyXCohort = map[string]string{
	"BTC":  "XXBT",
	"ETH":  "XETH",
	"XRP":  "XXRP",
	"LTC":  "XLTC",
	"XLM":  "XXLM",
	"XMR":  "XXMR",
	"DOGE": "XXDG",
	"ETC":  "XETC",
	"ZEC":  "XZEC",
}

var plainCohort = map[string]string{
	"BCH":   "BCH",
	"SOL":   "SOL",
	"ADA":   "ADA",
	"DOT":   "DOT",
	"MATIC": "MATIC",
	"AVAX":  "AVAX",
	"LINK":  "LINK",
	"ATOM":  "ATOM",
}

var legacyZQuote = map[string]string{
	"USD": "ZUSD",
	"EUR": "ZEUR",
	"GBP": "ZGBP",
	"CAD": "ZCAD",
	"JPY": "ZJPY",
}

// normalizePair maps a display symbol such as "BTC/USD" to a Kraken wire
// pair such as "XXBTZUSD". Unknown base or quote assets fail fast.
func normalizePair(displaySymbol string) (string, error) {
	parts := strings.SplitN(strings.ToUpper(displaySymbol), "/", 2)
	if len(parts) != 2 {
		return "", apperrors.NewExchangeError(apperrors.KindUnknownPair, "malformed symbol: "+displaySymbol, nil)
	}
	base, quote := parts[0], parts[1]

	var baseCode string
	if code, ok := legacyXCohort[base]; ok {
		baseCode = code
	} else if code, ok := plainCohort[base]; ok {
		baseCode = code
	} else {
		return "", apperrors.NewExchangeError(apperrors.KindUnknownPair, "unknown base asset: "+base, nil)
	}

	quoteCode, ok := legacyZQuote[quote]
	if !ok {
		// Quote assets outside the fiat legacy cohort (e.g. USDT) carry
		// their own code unchanged.
		quoteCode = quote
	}

	return baseCode + quoteCode, nil
}

// baseAssetCode recovers the native asset code a normalized pair's leading
// characters spell, by matching against the known cohort vocabularies
// rather than a fixed-length prefix: legacy-X codes are always 4 characters
// but plain-cohort codes vary from 3 to 5, so candidates are tried longest
// first to avoid a short code (e.g. "SOL") spuriously matching inside a
// longer one.
func baseAssetCode(pair string) (string, error) {
	candidates := make([]string, 0, len(legacyXCohort)+len(plainCohort))
	for _, code := range legacyXCohort {
		candidates = append(candidates, code)
	}
	for _, code := range plainCohort {
		candidates = append(candidates, code)
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	upper := strings.ToUpper(pair)
	for _, code := range candidates {
		if strings.HasPrefix(upper, code) {
			return code, nil
		}
	}
	return "", apperrors.NewExchangeError(apperrors.KindUnknownPair, "cannot determine base asset for pair: "+pair, nil)
}

// assetPrecision returns the quantity decimals Kraken accepts for asset.
// Values mirror Kraken's published AssetPairs lot_decimals for the major
// pairs; unlisted assets default to 8 decimals (Kraken's common case).
func assetPrecision(asset string) int32 {
	switch strings.ToUpper(asset) {
	case "BTC", "XBT":
		return 8
	case "ETH":
		return 8
	case "USD", "USDT", "EUR", "USDC":
		return 2
	default:
		return 8
	}
}

// minOrderSize returns Kraken's minimum order quantity for a normalized
// pair. Values mirror Kraken's published ordermin per asset; unlisted
// pairs fall back to a conservative default.
func minOrderSize(pair string) (float64, bool) {
	mins := map[string]float64{
		"XXBTZUSD": 0.0001,
		"XETHZUSD": 0.002,
		"SOLUSD":   0.02,
		"ADAUSD":   10,
	}
	v, ok := mins[pair]
	if !ok {
		return 0.001, false
	}
	return v, true
}
