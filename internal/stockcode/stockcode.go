// Package stockcode validates A-share stock codes before they reach the API.
package stockcode

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvalidCode is returned for anything that is not six ASCII digits.
var ErrInvalidCode = errors.New("invalid stock code")

type Market string

const (
	MarketShanghai Market = "SH"
	MarketShenzhen Market = "SZ"
	MarketBeijing  Market = "BJ"
	MarketUnknown  Market = "UNKNOWN"
)

// Code is a validated stock code.
type Code struct {
	Digits string
	Market Market
}

func (c Code) String() string { return c.Digits }

// Symbol returns the code with its market suffix, e.g. "600519.SH".
// Codes of unknown market are returned bare.
func (c Code) Symbol() string {
	if c.Market == MarketUnknown {
		return c.Digits
	}
	return c.Digits + "." + string(c.Market)
}

// MarketOf infers the exchange from the leading digit.
func MarketOf(digits string) Market {
	if digits == "" {
		return MarketUnknown
	}
	switch digits[0] {
	case '6', '9':
		return MarketShanghai
	case '0', '3':
		return MarketShenzhen
	case '4', '8':
		return MarketBeijing
	default:
		return MarketUnknown
	}
}

// Validate trims raw and checks it is a six digit code. An unrecognised
// market is logged at warn level but is not an error. logger may be nil.
func Validate(raw string, logger *slog.Logger) (Code, error) {
	code := strings.TrimSpace(raw)
	if len(code) != 6 {
		return Code{}, fmt.Errorf("%w: %q (expected 6 digits, e.g. 000001 or 600519)", ErrInvalidCode, raw)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return Code{}, fmt.Errorf("%w: %q (expected 6 digits, e.g. 000001 or 600519)", ErrInvalidCode, raw)
		}
	}

	market := MarketOf(code)
	if logger != nil {
		if market == MarketUnknown {
			logger.Warn("Stock code has unknown market", "code", code)
		} else {
			logger.Debug("Stock code validated", "code", code, "market", market)
		}
	}

	return Code{Digits: code, Market: market}, nil
}
