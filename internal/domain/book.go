package domain

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places a feed price may carry.
// Keys are only unique for prices within this precision.
const PriceScale = 2

// PriceKey is a price scaled by 10^PriceScale and rounded to the nearest integer.
type PriceKey int64

// KeyOf returns the integer key for a price.
func KeyOf(price decimal.Decimal) PriceKey {
	return PriceKey(price.Shift(PriceScale).Round(0).IntPart())
}

// Price converts the key back to an exact decimal price.
func (k PriceKey) Price() decimal.Decimal {
	return decimal.New(int64(k), -PriceScale)
}

// FitsPriceScale reports whether price can be keyed without collisions.
func FitsPriceScale(price decimal.Decimal) bool {
	return price.Equal(price.Round(PriceScale))
}

// PriceLevel is the total resting size at an exact price.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// NewPriceLevel is a shorthand used mostly by tests and fixtures.
func NewPriceLevel(price, size float64) PriceLevel {
	return PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

// Key returns the level's integer price key.
func (l PriceLevel) Key() PriceKey {
	return KeyOf(l.Price)
}

type levelEntry struct {
	key   PriceKey
	level PriceLevel
}

// PriceLevelMap holds one side of the book, ordered by ascending PriceKey.
// The zero value is an empty map ready to use. Copies share storage, so Clone
// before mutating one. A PriceLevelMap is not safe for concurrent mutation;
// published copies must be treated as read-only.
type PriceLevelMap struct {
	entries []levelEntry
}

// NewPriceLevelMap builds a map from levels in any order.
func NewPriceLevelMap(levels ...PriceLevel) PriceLevelMap {
	var m PriceLevelMap
	for _, l := range levels {
		m.Set(l)
	}
	return m
}

func (m PriceLevelMap) search(key PriceKey) (int, bool) {
	return slices.BinarySearchFunc(m.entries, key, func(e levelEntry, k PriceKey) int {
		return cmp.Compare(e.key, k)
	})
}

// Len returns the number of stored price levels.
func (m PriceLevelMap) Len() int {
	return len(m.entries)
}

// Get returns the level stored at key.
func (m PriceLevelMap) Get(key PriceKey) (PriceLevel, bool) {
	i, ok := m.search(key)
	if !ok {
		return PriceLevel{}, false
	}
	return m.entries[i].level, true
}

// Set inserts or overwrites the level at its key. A zero size removes the key,
// so absent levels are never stored.
func (m *PriceLevelMap) Set(level PriceLevel) {
	key := level.Key()
	if level.Size.IsZero() {
		m.Delete(key)
		return
	}
	i, ok := m.search(key)
	if ok {
		m.entries[i].level = level
		return
	}
	m.entries = slices.Insert(m.entries, i, levelEntry{key: key, level: level})
}

// Delete removes key and reports whether it was present.
func (m *PriceLevelMap) Delete(key PriceKey) bool {
	i, ok := m.search(key)
	if !ok {
		return false
	}
	m.entries = slices.Delete(m.entries, i, i+1)
	return true
}

// Levels returns a copy of all levels in ascending price order.
func (m PriceLevelMap) Levels() []PriceLevel {
	out := make([]PriceLevel, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.level
	}
	return out
}

// Ascend calls fn for each level from the lowest price up until fn returns false.
func (m PriceLevelMap) Ascend(fn func(PriceLevel) bool) {
	for _, e := range m.entries {
		if !fn(e.level) {
			return
		}
	}
}

// Descend calls fn for each level from the highest price down until fn returns false.
func (m PriceLevelMap) Descend(fn func(PriceLevel) bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if !fn(m.entries[i].level) {
			return
		}
	}
}

// Min returns the lowest-priced level.
func (m PriceLevelMap) Min() (PriceLevel, bool) {
	if len(m.entries) == 0 {
		return PriceLevel{}, false
	}
	return m.entries[0].level, true
}

// Max returns the highest-priced level.
func (m PriceLevelMap) Max() (PriceLevel, bool) {
	if len(m.entries) == 0 {
		return PriceLevel{}, false
	}
	return m.entries[len(m.entries)-1].level, true
}

// Clone returns a deep copy that shares no storage with m.
func (m PriceLevelMap) Clone() PriceLevelMap {
	return PriceLevelMap{entries: slices.Clone(m.entries)}
}

// Equal reports whether both maps hold the same keys with equal sizes.
func (m PriceLevelMap) Equal(other *PriceLevelMap) bool {
	return slices.EqualFunc(m.entries, other.entries, func(a, b levelEntry) bool {
		return a.key == b.key && a.level.Size.Equal(b.level.Size)
	})
}

// TotalSize sums the size of every stored level.
func (m PriceLevelMap) TotalSize() decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.entries {
		total = total.Add(e.level.Size)
	}
	return total
}

// MarshalJSON encodes the map as an ascending array of levels.
func (m PriceLevelMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Levels())
}
