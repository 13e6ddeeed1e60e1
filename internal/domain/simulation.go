package domain

import (
	"math"
	"time"
)

// Request bounds accepted by the simulator.
const (
	MinFeeTier    = 0
	MaxFeeTier    = 5
	MinVolatility = 0.001
	MaxVolatility = 0.5
)

// SimulationRequest describes a hypothetical market buy.
type SimulationRequest struct {
	Quantity   float64 `json:"quantity"` // quote-currency denominated
	FeeTier    int     `json:"fee_tier"`
	Volatility float64 `json:"volatility"`
}

// Validate rejects out-of-range parameters. Values are never clamped.
func (r SimulationRequest) Validate() error {
	if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) || r.Quantity <= 0 {
		return NewValidationError("quantity", r.Quantity, "must be a finite value greater than 0")
	}
	if r.FeeTier < MinFeeTier || r.FeeTier > MaxFeeTier {
		return NewValidationError("fee_tier", r.FeeTier, "must be between 0 and 5")
	}
	if math.IsNaN(r.Volatility) || r.Volatility < MinVolatility || r.Volatility > MaxVolatility {
		return NewValidationError("volatility", r.Volatility, "must be between 0.001 and 0.5")
	}
	return nil
}

// SimulationResult holds cost estimates as fractions of order value.
type SimulationResult struct {
	RequestID    string    `json:"request_id"`
	Slippage     float64   `json:"slippage"`
	Fee          float64   `json:"fee"`
	MarketImpact float64   `json:"market_impact"`
	MakerRatio   float64   `json:"maker_ratio"`
	TakerRatio   float64   `json:"taker_ratio"`
	TotalCost    float64   `json:"total_cost"`
	MidPrice     float64   `json:"mid_price"`
	BookTime     time.Time `json:"book_time"`
	BookCrossed  bool      `json:"book_crossed"`
}

// LatencySample is one per parsed feed message.
type LatencySample struct {
	DelayMs      float64   `json:"delay_ms"`      // receipt time - venue timestamp
	ProcessingMs float64   `json:"processing_ms"` // parse + apply
	ReceivedAt   time.Time `json:"received_at"`
}

// LatencyStats summarises recent one-way delay samples.
type LatencyStats struct {
	Count  int     `json:"count"`
	LastMs float64 `json:"last_ms"`
	AvgMs  float64 `json:"avg_ms"`
	MaxMs  float64 `json:"max_ms"`
	// Processing time averaged over the same window.
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// FeedStatus is the connection/book summary shown to operators.
type FeedStatus struct {
	Connected  bool      `json:"connected"`
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	BidLevels  int       `json:"bid_levels"`
	AskLevels  int       `json:"ask_levels"`
	LastUpdate time.Time `json:"last_update"`
	Crossed    bool      `json:"crossed"`
	Updates    uint64    `json:"updates"`
}
