// Package symbol handles instrument symbol normalization and parsing
// for the paper engine's API surface.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches: {BASE}-{QUOTE}
// Example: BTC-USDT
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	// ErrInvalidSymbol is returned for symbols that do not match the
	// BASE-QUOTE form.
	ErrInvalidSymbol = errors.New("symbol: invalid symbol format")
)

// Instrument is a parsed trading symbol.
type Instrument struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Normalize upper-cases and trims a symbol without validating it.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Parse validates and splits a BASE-QUOTE symbol.
func Parse(symbol string) (*Instrument, error) {
	norm := Normalize(symbol)
	matches := tickerRegex.FindStringSubmatch(norm)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected BASE-QUOTE, e.g. BTC-USDT)",
			ErrInvalidSymbol, symbol)
	}
	return &Instrument{
		Symbol: norm,
		Base:   matches[1],
		Quote:  matches[2],
	}, nil
}
