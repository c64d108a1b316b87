package engine

import "orderfeed/internal/domain"

// Event is a state transition accepted by Reduce.
type Event interface {
	isEvent()
}

// ApplyEvent publishes the buffered sides as the next state.
type ApplyEvent struct {
	Bids domain.PriceLevelMap
	Asks domain.PriceLevelMap
}

// ChangeSubscriptionEvent empties the book and switches it to Product.
type ChangeSubscriptionEvent struct {
	Product domain.Product
}

func (ApplyEvent) isEvent()              {}
func (ChangeSubscriptionEvent) isEvent() {}

// Reduce returns the state that follows ev. The input state and the maps
// carried by ev are never mutated; the result owns its own storage.
func Reduce(state domain.OrderBookState, ev Event) domain.OrderBookState {
	switch e := ev.(type) {
	case ApplyEvent:
		return domain.OrderBookState{
			Bids:    e.Bids.Clone(),
			Asks:    e.Asks.Clone(),
			Symbol:  state.Symbol,
			Version: state.Version + 1,
		}
	case ChangeSubscriptionEvent:
		return domain.OrderBookState{
			Symbol:  e.Product,
			Version: state.Version + 1,
		}
	default:
		return state
	}
}
