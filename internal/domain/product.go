package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Product identifies a tradable instrument on the feed.
type Product string

const (
	ProductXBTUSD Product = "PI_XBTUSD"
	ProductETHUSD Product = "PI_ETHUSD"
)

// DefaultProduct is subscribed when nothing else is configured.
const DefaultProduct = ProductXBTUSD

var productDefaults = map[Product]Denomination{
	ProductXBTUSD: FiftyCents,
	ProductETHUSD: FiveCents,
}

// Products returns the supported instruments in a stable order.
func Products() []Product {
	return []Product{ProductXBTUSD, ProductETHUSD}
}

// ParseProduct validates a product identifier.
func ParseProduct(s string) (Product, error) {
	p := Product(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return p, nil
}

// Valid reports whether p is a supported instrument.
func (p Product) Valid() bool {
	_, ok := productDefaults[p]
	return ok
}

// DefaultDenomination returns the grouping shown for p until the caller overrides it.
func (p Product) DefaultDenomination() Denomination {
	if d, ok := productDefaults[p]; ok {
		return d
	}
	return FiftyCents
}

// Toggle returns the other supported instrument.
func (p Product) Toggle() Product {
	if p == ProductXBTUSD {
		return ProductETHUSD
	}
	return ProductXBTUSD
}

func (p Product) String() string {
	return string(p)
}

// Denomination is a price-grouping width expressed in hundredths of the quote
// currency, the same scale as PriceKey.
type Denomination int64

const (
	Tick                Denomination = 1
	FiveCents           Denomination = 5
	TenCents            Denomination = 10
	TwentyFiveCents     Denomination = 25
	FiftyCents          Denomination = 50
	OneDollar           Denomination = 100
	TwoPointFiveDollars Denomination = 250
)

// Denominations returns the selectable grouping widths in ascending order.
func Denominations() []Denomination {
	return []Denomination{FiveCents, TenCents, TwentyFiveCents, FiftyCents, OneDollar, TwoPointFiveDollars}
}

// ParseDenomination accepts a decimal width such as "0.5" or "2.50".
func ParseDenomination(s string) (Denomination, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDenomination, s)
	}
	if !FitsPriceScale(v) {
		return 0, fmt.Errorf("%w: %q exceeds %d decimals", ErrInvalidDenomination, s, PriceScale)
	}
	d := Denomination(v.Shift(PriceScale).IntPart())
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDenomination, s)
	}
	return d, nil
}

// Valid reports whether d is one of the selectable widths.
func (d Denomination) Valid() bool {
	for _, v := range Denominations() {
		if v == d {
			return true
		}
	}
	return false
}

// Units returns the width on the PriceKey scale.
func (d Denomination) Units() int64 {
	return int64(d)
}

// Decimal returns the width as a decimal price.
func (d Denomination) Decimal() decimal.Decimal {
	return decimal.New(int64(d), -PriceScale)
}

func (d Denomination) String() string {
	return d.Decimal().StringFixed(PriceScale)
}
