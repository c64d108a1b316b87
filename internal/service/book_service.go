package service

import (
	"fmt"
	"sync"

	"orderfeed/internal/domain"
	"orderfeed/internal/engine"

	"github.com/shopspring/decimal"
)

// DefaultDepthLimit is the number of buckets shown per side.
const DefaultDepthLimit = 17

// Row is one aggregated bucket with its depth-bar ratio.
type Row struct {
	domain.AggregatedLevel
	Depth float64 `json:"depth"` // Total relative to the deepest row of the side, 0..1
}

// Ladder is the rendered view of one published book state.
type Ladder struct {
	Symbol    domain.Product      `json:"symbol"`
	Version   uint64              `json:"version"`
	Grouping  domain.Denomination `json:"grouping"`
	Bids      []Row               `json:"bids"` // highest price first
	Asks      []Row               `json:"asks"` // lowest price first
	BidsMax   decimal.Decimal     `json:"bids_max"`
	AsksMax   decimal.Decimal     `json:"asks_max"`
	Spread    decimal.Decimal     `json:"spread"`
	HasSpread bool                `json:"has_spread"`
}

// BookConfig configures ladder rendering.
type BookConfig struct {
	Grouping domain.Denomination // 0 selects the product default
	Limit    int                 // <= 0 selects DefaultDepthLimit
	Truncate engine.TruncatePolicy
}

// BookService keeps the latest published book and renders it on demand.
type BookService struct {
	mu       sync.RWMutex
	state    domain.OrderBookState
	grouping domain.Denomination
	limit    int
	truncate engine.TruncatePolicy
}

// NewBookService creates a service showing symbol until the first publication.
func NewBookService(symbol domain.Product, cfg BookConfig) *BookService {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultDepthLimit
	}
	if !cfg.Grouping.Valid() {
		cfg.Grouping = symbol.DefaultDenomination()
	}
	return &BookService{
		state:    domain.NewOrderBookState(symbol),
		grouping: cfg.Grouping,
		limit:    cfg.Limit,
		truncate: cfg.Truncate,
	}
}

// OnPublish accepts a published state. Older versions are ignored; a symbol
// change resets the grouping to the new product's default.
func (s *BookService) OnPublish(state domain.OrderBookState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Version < s.state.Version {
		return
	}
	if state.Symbol != s.state.Symbol {
		s.grouping = state.Symbol.DefaultDenomination()
	}
	s.state = state
}

// SetGrouping overrides the denomination for the current product.
func (s *BookService) SetGrouping(d domain.Denomination) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidDenomination, d)
	}
	s.mu.Lock()
	s.grouping = d
	s.mu.Unlock()
	return nil
}

// Grouping returns the active denomination.
func (s *BookService) Grouping() domain.Denomination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grouping
}

// Symbol returns the product of the latest state.
func (s *BookService) Symbol() domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Symbol
}

// State returns the latest published state.
func (s *BookService) State() domain.OrderBookState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Spread returns best ask minus best bid, or zero if either side is empty.
func (s *BookService) Spread() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spread, _ := s.state.Spread()
	return spread
}

// Ladder groups both sides of the latest state. Bids are reversed so that
// both sides accumulate outward from the spread.
func (s *BookService) Ladder() Ladder {
	s.mu.RLock()
	state := s.state
	grouping := s.grouping
	limit := s.limit
	truncate := s.truncate
	s.mu.RUnlock()

	bids := engine.GroupAndTotalWith(state.Bids.Levels(), grouping, engine.GroupOptions{
		Reversed: true,
		Limit:    limit,
		Truncate: truncate,
	})
	asks := engine.GroupAndTotalWith(state.Asks.Levels(), grouping, engine.GroupOptions{
		Limit:    limit,
		Truncate: truncate,
	})

	spread, ok := state.Spread()
	l := Ladder{
		Symbol:    state.Symbol,
		Version:   state.Version,
		Grouping:  grouping,
		BidsMax:   engine.MaxTotal(bids),
		AsksMax:   engine.MaxTotal(asks),
		Spread:    spread,
		HasSpread: ok,
	}
	l.Bids = rows(bids, l.BidsMax)
	l.Asks = rows(asks, l.AsksMax)
	return l
}

func rows(levels []domain.AggregatedLevel, maxTotal decimal.Decimal) []Row {
	out := make([]Row, len(levels))
	for i, lvl := range levels {
		out[i] = Row{AggregatedLevel: lvl, Depth: engine.DepthRatio(lvl.Total, maxTotal)}
	}
	return out
}
