package engine

import "orderfeed/internal/domain"

// ApplyDelta merges updates into m in feed order. A zero size removes the
// level (absent keys are left alone); any other size overwrites it.
func ApplyDelta(m *domain.PriceLevelMap, updates []domain.PriceLevel) {
	for _, u := range updates {
		m.Set(u)
	}
}

// ApplySnapshot builds a fresh side from a full snapshot.
func ApplySnapshot(updates []domain.PriceLevel) domain.PriceLevelMap {
	var m domain.PriceLevelMap
	ApplyDelta(&m, updates)
	return m
}
