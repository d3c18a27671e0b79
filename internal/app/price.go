package app

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PriceVal is an amount in rubles and kopecks.
type PriceVal struct {
	Rubs    int `json:"rubs"`
	Kopecks int `json:"kopecks"`
}

func (p PriceVal) String() string {
	return fmt.Sprintf("%d.%02d", p.Rubs, p.Kopecks)
}

// Discount describes a reduced price relative to a base price.
type Discount struct {
	BasePrice PriceVal `json:"base_price"`
	Percent   int      `json:"discount"`
}

// PriceData is the SET_PRICE payload shown on a pricer's display.
type PriceData struct {
	Name     string    `json:"name"`
	Price    PriceVal  `json:"res_price"`
	Discount *Discount `json:"discount,omitempty"`
}

// ParsePrice decodes a SET_PRICE payload.
func ParsePrice(data []byte) (*PriceData, error) {
	var p PriceData
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}
	if p.Price.Kopecks < 0 || p.Price.Kopecks > 99 {
		return nil, fmt.Errorf("decode price: kopecks out of range: %d", p.Price.Kopecks)
	}
	return &p, nil
}

// Summary renders the price on one line.
func (p *PriceData) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", p.Name, p.Price)
	if p.Discount != nil {
		fmt.Fprintf(&b, " (was %s, -%d%%)", p.Discount.BasePrice, p.Discount.Percent)
	}
	return b.String()
}
