package builtins

import (
	"fmt"
	"math"
	"strconv"

	"stockpit/internal/domain"
	"stockpit/internal/signal"
)

// Compile-time interface check.
var _ signal.Strategy = (*Trendline)(nil)

// Trendline fits a least-squares line through recent closes and signals on a
// decisive break away from that line: a buy when the last close sits above
// the fitted line by more than the breakout margin with a rising slope, a
// sell when it sits below with a falling slope.
type Trendline struct {
	window int     // candles to fit over
	margin float64 // fractional distance from the line that counts as a break
}

// NewTrendline creates a Trendline strategy fitting over the given window.
func NewTrendline(window int, margin float64) *Trendline {
	return &Trendline{
		window: window,
		margin: margin,
	}
}

// Name returns "trendline".
func (t *Trendline) Name() string {
	return "trendline"
}

// MinCandles returns the fit window.
func (t *Trendline) MinCandles() int {
	return t.window
}

// Evaluate fits the line and checks the final candle against it.
func (t *Trendline) Evaluate(candles []domain.Candle) (*domain.Signal, error) {
	if len(candles) < t.window {
		return nil, fmt.Errorf("trendline: need %d candles, have %d", t.window, len(candles))
	}

	recent := candles[len(candles)-t.window:]
	slope, intercept := fitLine(recent)

	last := recent[len(recent)-1]
	fitted := slope*float64(len(recent)-1) + intercept
	if fitted == 0 {
		return nil, nil
	}
	deviation := (last.Close - fitted) / fitted

	// Normalize the slope to a per-day fraction of the mean close so that
	// strength is comparable across price levels.
	mean := 0.0
	for _, c := range recent {
		mean += c.Close
	}
	mean /= float64(len(recent))
	normSlope := 0.0
	if mean != 0 {
		normSlope = slope / mean
	}

	var kind domain.SignalKind
	switch {
	case deviation > t.margin && normSlope > 0:
		kind = domain.SignalBuy
	case deviation < -t.margin && normSlope < 0:
		kind = domain.SignalSell
	default:
		return nil, nil
	}

	strength := math.Min(math.Abs(deviation)/t.margin/2, 1)

	return &domain.Signal{
		Strategy: t.Name(),
		Code:     last.Code,
		Kind:     kind,
		Strength: strength,
		Metadata: map[string]string{
			"slope":     strconv.FormatFloat(normSlope, 'f', 6, 64),
			"deviation": strconv.FormatFloat(deviation, 'f', 6, 64),
		},
	}, nil
}

// fitLine returns the least-squares slope and intercept of closes indexed by
// candle position.
func fitLine(candles []domain.Candle) (slope, intercept float64) {
	n := float64(len(candles))
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range candles {
		x := float64(i)
		sumX += x
		sumY += c.Close
		sumXY += x * c.Close
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
