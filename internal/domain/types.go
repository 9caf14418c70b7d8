// Package domain defines the core types shared across stockpit: tracked
// stocks and their tags, daily candles, computed trading signals, and
// background task state.
package domain

import "time"

// Market identifies the exchange universe a stock belongs to.
type Market string

const (
	MarketUS Market = "us"
	MarketKR Market = "kr"
)

// Stock is a tracked instrument. Tags are free-form user labels.
type Stock struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Market    Market    `json:"market"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Code       string    `json:"code"`
	Date       time.Time `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// SignalKind is the direction a strategy produced.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Signal is one strategy verdict for a stock at a point in time.
type Signal struct {
	ID        int64             `json:"id"`
	Strategy  string            `json:"strategy"`
	Code      string            `json:"code"`
	Kind      SignalKind        `json:"kind"`
	Strength  float64           `json:"strength"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
