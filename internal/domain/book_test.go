package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func keys(m *PriceLevelMap) []PriceKey {
	var out []PriceKey
	m.Ascend(func(l PriceLevel) bool {
		out = append(out, l.Key())
		return true
	})
	return out
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		price string
		want  PriceKey
	}{
		{"100", 10000},
		{"100.5", 10050},
		{"100.50", 10050},
		{"0.05", 5},
		{"1234.56", 123456},
		{"0.1", 10},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got := KeyOf(decimal.RequireFromString(tt.price))
			if got != tt.want {
				t.Errorf("KeyOf(%s) = %d, want %d", tt.price, got, tt.want)
			}
			if !got.Price().Equal(decimal.RequireFromString(tt.price)) {
				t.Errorf("round trip of %s gave %s", tt.price, got.Price())
			}
		})
	}
}

func TestKeyOf_FloatInput(t *testing.T) {
	// 0.1 + 0.2 style drift must not leak into keys.
	if got := KeyOf(decimal.NewFromFloat(4123.45)); got != 412345 {
		t.Errorf("KeyOf(4123.45) = %d", got)
	}
}

func TestFitsPriceScale(t *testing.T) {
	if !FitsPriceScale(decimal.RequireFromString("10.25")) {
		t.Error("two decimals should fit")
	}
	if FitsPriceScale(decimal.RequireFromString("10.255")) {
		t.Error("three decimals should not fit")
	}
}

func TestPriceLevelMap_OrderedInsert(t *testing.T) {
	var m PriceLevelMap
	for _, p := range []float64{101.5, 99, 100.25, 102, 98.75} {
		m.Set(NewPriceLevel(p, 1))
	}

	got := keys(&m)
	want := []PriceKey{9875, 9900, 10025, 10150, 10200}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

func TestPriceLevelMap_OverwriteAndDelete(t *testing.T) {
	m := NewPriceLevelMap(NewPriceLevel(100, 5), NewPriceLevel(101, 4))

	m.Set(NewPriceLevel(100, 7))
	if l, ok := m.Get(10000); !ok || !l.Size.Equal(decimal.NewFromInt(7)) {
		t.Errorf("expected overwrite to size 7, got %v (ok=%v)", l.Size, ok)
	}
	if m.Len() != 2 {
		t.Errorf("overwrite must not add a key, len = %d", m.Len())
	}

	m.Set(NewPriceLevel(101, 0))
	if _, ok := m.Get(10100); ok {
		t.Error("zero size must remove the level")
	}

	if m.Delete(12345) {
		t.Error("deleting an absent key should report false")
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestPriceLevelMap_MinMaxDescend(t *testing.T) {
	var empty PriceLevelMap
	if _, ok := empty.Min(); ok {
		t.Error("empty map has no min")
	}
	if _, ok := empty.Max(); ok {
		t.Error("empty map has no max")
	}

	m := NewPriceLevelMap(NewPriceLevel(100, 1), NewPriceLevel(102, 2), NewPriceLevel(101, 3))
	lo, _ := m.Min()
	hi, _ := m.Max()
	if !lo.Price.Equal(decimal.NewFromInt(100)) || !hi.Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("min/max = %s/%s", lo.Price, hi.Price)
	}

	var desc []string
	m.Descend(func(l PriceLevel) bool {
		desc = append(desc, l.Price.String())
		return len(desc) < 2
	})
	if len(desc) != 2 || desc[0] != "102" || desc[1] != "101" {
		t.Errorf("descend with early stop = %v", desc)
	}
}

func TestPriceLevelMap_CloneIsIndependent(t *testing.T) {
	m := NewPriceLevelMap(NewPriceLevel(100, 1))
	c := m.Clone()

	m.Set(NewPriceLevel(100, 9))
	m.Set(NewPriceLevel(105, 2))

	if c.Len() != 1 {
		t.Fatalf("clone len = %d, want 1", c.Len())
	}
	if l, _ := c.Get(10000); !l.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("clone was mutated: size %s", l.Size)
	}
	if m.Equal(&c) {
		t.Error("maps should differ after mutation")
	}
}

func TestPriceLevelMap_TotalSizeAndJSON(t *testing.T) {
	m := NewPriceLevelMap(NewPriceLevel(101, 4), NewPriceLevel(100, 1.5))
	if !m.TotalSize().Equal(decimal.NewFromFloat(5.5)) {
		t.Errorf("TotalSize = %s", m.TotalSize())
	}

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"price":"100","size":"1.5"},{"price":"101","size":"4"}]`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestOrderBookState_Spread(t *testing.T) {
	st := NewOrderBookState(ProductXBTUSD)
	if _, ok := st.Spread(); ok {
		t.Error("empty book has no spread")
	}
	if !st.IsEmpty() {
		t.Error("new book should be empty")
	}

	st.Bids = NewPriceLevelMap(NewPriceLevel(99.5, 1), NewPriceLevel(100, 2))
	st.Asks = NewPriceLevelMap(NewPriceLevel(100.5, 1), NewPriceLevel(101, 3))

	spread, ok := st.Spread()
	if !ok || !spread.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("spread = %s (ok=%v), want 0.5", spread, ok)
	}
}
