package engine

import (
	"math"
	"sort"

	"trade_sim/internal/domain"
)

// VolumeTier grants Discount when the order value strictly exceeds Threshold.
type VolumeTier struct {
	Threshold float64
	Discount  float64
}

// ModelParams are the fixed coefficients of the cost models.
type ModelParams struct {
	MakerFee float64
	TakerFee float64

	VolumeDiscounts  []VolumeTier
	TierDiscountStep float64 // per fee tier
	MaxDiscount      float64

	SlippageAlpha    float64
	SlippageBeta     float64
	DepthLevels      int     // ask levels used as liquidity proxy
	LiquidityPenalty float64 // markup over the worst ask for unfilled size

	ImpactGamma     float64
	ImpactEta       float64 // carried for completeness, unused by the closed form
	ImpactAlpha     float64
	PermanentWeight float64

	MakerTakerK     float64
	MakerTakerX0    float64
	ImbalanceLevels int
}

// DefaultModelParams returns the stock coefficients.
func DefaultModelParams() ModelParams {
	return ModelParams{
		MakerFee: 0.001,
		TakerFee: 0.002,
		VolumeDiscounts: []VolumeTier{
			{Threshold: 1_000_000, Discount: 0.20},
			{Threshold: 500_000, Discount: 0.10},
			{Threshold: 100_000, Discount: 0.05},
		},
		TierDiscountStep: 0.05,
		MaxDiscount:      0.70,
		SlippageAlpha:    0.0001,
		SlippageBeta:     0.02,
		DepthLevels:      10,
		LiquidityPenalty: 0.05,
		ImpactGamma:      0.314,
		ImpactEta:        0.142,
		ImpactAlpha:      0.5,
		PermanentWeight:  0.5,
		MakerTakerK:      4.0,
		MakerTakerX0:     0.0,
		ImbalanceLevels:  5,
	}
}

// CostEngine evaluates slippage, fees, impact and maker/taker mix against a
// book snapshot. It holds no mutable state; all methods are safe for
// concurrent use and deterministic for identical inputs.
type CostEngine struct {
	params ModelParams
}

// NewCostEngine copies params and orders the volume table by descending threshold.
func NewCostEngine(params ModelParams) *CostEngine {
	tiers := make([]VolumeTier, len(params.VolumeDiscounts))
	copy(tiers, params.VolumeDiscounts)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].Threshold > tiers[j].Threshold
	})
	params.VolumeDiscounts = tiers
	if params.DepthLevels <= 0 {
		params.DepthLevels = 10
	}
	if params.ImbalanceLevels <= 0 {
		params.ImbalanceLevels = 5
	}
	return &CostEngine{params: params}
}

// Params returns a copy of the engine's coefficients.
func (e *CostEngine) Params() ModelParams {
	p := e.params
	p.VolumeDiscounts = append([]VolumeTier(nil), e.params.VolumeDiscounts...)
	return p
}

// liquidityDenominator is the top-N ask depth, or 1 when the book has none.
func (e *CostEngine) liquidityDenominator(book *domain.BookSnapshot) float64 {
	depth := book.AskDepth(e.params.DepthLevels)
	if depth <= 0 {
		return 1
	}
	return depth
}

// Slippage walks the asks for a market buy of quantity and returns the larger
// of the realised slippage versus mid and the depth-based model estimate.
func (e *CostEngine) Slippage(book *domain.BookSnapshot, quantity float64) float64 {
	if quantity <= 0 || !book.HasBothSides() {
		return 0
	}
	mid, _ := book.MidPrice()
	if mid <= 0 {
		return 0
	}

	var executed, cost float64
	for _, lvl := range book.Asks {
		if executed >= quantity {
			break
		}
		fill := math.Min(lvl.Size, quantity-executed)
		cost += lvl.Price * fill
		executed += fill
	}
	if executed < quantity {
		// Book exhausted: price the remainder above the worst ask.
		worst := book.Asks[len(book.Asks)-1].Price
		cost += worst * (1 + e.params.LiquidityPenalty) * (quantity - executed)
	}

	avgPrice := cost / quantity
	simple := (avgPrice - mid) / mid
	model := e.params.SlippageAlpha + e.params.SlippageBeta*math.Sqrt(quantity/e.liquidityDenominator(book))

	return math.Max(simple, model)
}

// FeeDiscount is min(MaxDiscount, volumeDiscount(orderValue) + tier*step).
func (e *CostEngine) FeeDiscount(orderValue float64, feeTier int) float64 {
	var volume float64
	for _, t := range e.params.VolumeDiscounts {
		if orderValue > t.Threshold {
			volume = t.Discount
			break
		}
	}
	if feeTier < 0 {
		feeTier = 0
	}
	return math.Min(e.params.MaxDiscount, volume+float64(feeTier)*e.params.TierDiscountStep)
}

// Fees returns the expected fee as a fraction of order value, blending maker
// and taker rates by the predicted maker ratio.
func (e *CostEngine) Fees(book *domain.BookSnapshot, quantity float64, feeTier int) float64 {
	if quantity <= 0 || !book.HasBothSides() {
		return 0
	}
	mid, _ := book.MidPrice()
	orderValue := quantity * mid

	discount := e.FeeDiscount(orderValue, feeTier)
	maker := e.MakerRatio(book)
	blended := e.params.MakerFee*maker + e.params.TakerFee*(1-maker)

	return blended * (1 - discount)
}

// MarketImpact is the square-root Almgren-Chriss estimate:
// vol*rate^alpha + w*gamma*vol*sqrt(rate), rate = quantity / askDepth,
// or 1 when the top asks carry no size.
func (e *CostEngine) MarketImpact(book *domain.BookSnapshot, quantity, volatility float64) float64 {
	if quantity <= 0 || !book.HasBothSides() {
		return 0
	}
	rate := 1.0
	if depth := book.AskDepth(e.params.DepthLevels); depth > 0 {
		rate = quantity / depth
	}

	temporary := volatility * math.Pow(rate, e.params.ImpactAlpha)
	permanent := e.params.ImpactGamma * volatility * math.Sqrt(rate)

	return temporary + e.params.PermanentWeight*permanent
}

// MakerRatio maps top-of-book depth imbalance through a logistic curve.
// Returns 0.5 without a two-sided book.
func (e *CostEngine) MakerRatio(book *domain.BookSnapshot) float64 {
	if !book.HasBothSides() {
		return 0.5
	}
	bid := book.BidDepth(e.params.ImbalanceLevels)
	ask := book.AskDepth(e.params.ImbalanceLevels)
	if bid+ask == 0 {
		return 0.5
	}
	imbalance := (bid - ask) / (bid + ask)
	return 1 / (1 + math.Exp(-e.params.MakerTakerK*(imbalance-e.params.MakerTakerX0)))
}

// Evaluate runs every model against one snapshot.
func (e *CostEngine) Evaluate(book *domain.BookSnapshot, req domain.SimulationRequest) domain.SimulationResult {
	res := domain.SimulationResult{
		Slippage:     e.Slippage(book, req.Quantity),
		Fee:          e.Fees(book, req.Quantity, req.FeeTier),
		MarketImpact: e.MarketImpact(book, req.Quantity, req.Volatility),
		MakerRatio:   e.MakerRatio(book),
		BookCrossed:  book.IsCrossed(),
	}
	res.TakerRatio = 1 - res.MakerRatio
	res.TotalCost = res.Slippage + res.Fee + res.MarketImpact
	if mid, ok := book.MidPrice(); ok {
		res.MidPrice = mid
	}
	if book != nil {
		res.BookTime = book.Timestamp
	}
	return res
}
