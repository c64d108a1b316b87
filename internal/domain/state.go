package domain

import "github.com/shopspring/decimal"

// OrderBookState is one coherent view of both sides of a single product's book.
// Published states are never mutated after they are handed out.
type OrderBookState struct {
	Bids    PriceLevelMap `json:"bids"`
	Asks    PriceLevelMap `json:"asks"`
	Symbol  Product       `json:"symbol"`
	Version uint64        `json:"version"` // incremented on every publication
}

// NewOrderBookState returns an empty book for symbol.
func NewOrderBookState(symbol Product) OrderBookState {
	return OrderBookState{Symbol: symbol}
}

// IsEmpty reports whether neither side holds a level.
func (s OrderBookState) IsEmpty() bool {
	return s.Bids.Len() == 0 && s.Asks.Len() == 0
}

// BestBid returns the highest bid.
func (s OrderBookState) BestBid() (PriceLevel, bool) {
	return s.Bids.Max()
}

// BestAsk returns the lowest ask.
func (s OrderBookState) BestAsk() (PriceLevel, bool) {
	return s.Asks.Min()
}

// Spread returns best ask minus best bid; ok is false if either side is empty.
func (s OrderBookState) Spread() (spread decimal.Decimal, ok bool) {
	bid, hasBid := s.BestBid()
	ask, hasAsk := s.BestAsk()
	if !hasBid || !hasAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// AggregatedLevel is a denomination bucket with its cumulative depth.
type AggregatedLevel struct {
	Price decimal.Decimal `json:"price"` // multiple of the denomination
	Size  decimal.Decimal `json:"size"`
	Total decimal.Decimal `json:"total"`
}
