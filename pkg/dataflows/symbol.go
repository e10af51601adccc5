package dataflows

import (
	"fmt"
	"strings"
)

const maxSymbolLen = 12

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol accepts exchange suffixed tickers such as 700.HK.
func ValidateSymbol(symbol string) error {
	s := NormalizeSymbol(symbol)
	switch {
	case s == "":
		return fmt.Errorf("symbol cannot be empty")
	case len(s) > maxSymbolLen:
		return fmt.Errorf("symbol too long: %s", s)
	case strings.ContainsAny(s, " \t/\\"):
		return fmt.Errorf("invalid symbol: %q", s)
	}
	return nil
}
