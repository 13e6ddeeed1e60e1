package domain

import "time"

// PriceLevel is a single resting price/size pair.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a full replacement view of one symbol's book.
// Asks are ascending by price, bids descending. A snapshot is never
// mutated after it has been handed to the book state.
type BookSnapshot struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Timestamp  time.Time    `json:"timestamp"` // venue-reported, zero if missing/unparsable
	ReceivedAt time.Time    `json:"received_at"`
	Asks       []PriceLevel `json:"asks"`
	Bids       []PriceLevel `json:"bids"`
}

// BestAsk returns the lowest ask price. ok is false when the ask side is empty.
func (b *BookSnapshot) BestAsk() (price float64, ok bool) {
	if b == nil || len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// BestBid returns the highest bid price. ok is false when the bid side is empty.
func (b *BookSnapshot) BestBid() (price float64, ok bool) {
	if b == nil || len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// HasBothSides reports whether both sides carry at least one level.
func (b *BookSnapshot) HasBothSides() bool {
	return b != nil && len(b.Asks) > 0 && len(b.Bids) > 0
}

// MidPrice returns (bestAsk + bestBid) / 2, or false if either side is empty.
func (b *BookSnapshot) MidPrice() (float64, bool) {
	if !b.HasBothSides() {
		return 0, false
	}
	return (b.Asks[0].Price + b.Bids[0].Price) / 2, true
}

// IsCrossed reports best ask < best bid.
func (b *BookSnapshot) IsCrossed() bool {
	if !b.HasBothSides() {
		return false
	}
	return b.Asks[0].Price < b.Bids[0].Price
}

// AskDepth sums sizes across the first n ask levels.
func (b *BookSnapshot) AskDepth(n int) float64 {
	if b == nil {
		return 0
	}
	return sumSizes(b.Asks, n)
}

// BidDepth sums sizes across the first n bid levels.
func (b *BookSnapshot) BidDepth(n int) float64 {
	if b == nil {
		return 0
	}
	return sumSizes(b.Bids, n)
}

func sumSizes(levels []PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for i := 0; i < n; i++ {
		total += levels[i].Size
	}
	return total
}

// Top returns a copy of the snapshot truncated to depth levels per side.
func (b *BookSnapshot) Top(depth int) BookSnapshot {
	if b == nil {
		return BookSnapshot{}
	}
	out := *b
	out.Asks = truncate(b.Asks, depth)
	out.Bids = truncate(b.Bids, depth)
	return out
}

func truncate(levels []PriceLevel, depth int) []PriceLevel {
	if depth < 0 || depth > len(levels) {
		depth = len(levels)
	}
	out := make([]PriceLevel, depth)
	copy(out, levels[:depth])
	return out
}
