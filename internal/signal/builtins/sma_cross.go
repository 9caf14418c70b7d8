// Package builtins provides the built-in strategy implementations that ship
// with stockpit.
package builtins

import (
	"fmt"
	"strconv"

	"stockpit/internal/domain"
	"stockpit/internal/signal"
)

// Compile-time interface check.
var _ signal.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It
// generates a buy signal when the short-period SMA crosses above the
// long-period SMA on the most recent candle, and a sell signal when it
// crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// MinCandles needs one candle beyond the long period to detect a cross.
func (s *SMACross) MinCandles() int {
	return s.longPeriod + 1
}

// Evaluate detects a crossover on the final candle.
func (s *SMACross) Evaluate(candles []domain.Candle) (*domain.Signal, error) {
	if len(candles) < s.MinCandles() {
		return nil, fmt.Errorf("sma-cross: need %d candles, have %d", s.MinCandles(), len(candles))
	}

	// SMAs at the last candle and the one before it.
	shortNow := sma(candles, len(candles), s.shortPeriod)
	longNow := sma(candles, len(candles), s.longPeriod)
	shortPrev := sma(candles, len(candles)-1, s.shortPeriod)
	longPrev := sma(candles, len(candles)-1, s.longPeriod)

	var kind domain.SignalKind
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		kind = domain.SignalBuy
	case shortPrev >= longPrev && shortNow < longNow:
		kind = domain.SignalSell
	default:
		return nil, nil
	}

	// Strength: separation of the averages relative to price.
	strength := 0.0
	if longNow != 0 {
		strength = (shortNow - longNow) / longNow
		if strength < 0 {
			strength = -strength
		}
		if strength > 1 {
			strength = 1
		}
	}

	last := candles[len(candles)-1]
	return &domain.Signal{
		Strategy: s.Name(),
		Code:     last.Code,
		Kind:     kind,
		Strength: strength,
		Metadata: map[string]string{
			"sma_short": strconv.FormatFloat(shortNow, 'f', 4, 64),
			"sma_long":  strconv.FormatFloat(longNow, 'f', 4, 64),
		},
	}, nil
}

// sma averages the closes of the `period` candles ending just before index
// `end` (exclusive).
func sma(candles []domain.Candle, end, period int) float64 {
	sum := 0.0
	for i := end - period; i < end; i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}
