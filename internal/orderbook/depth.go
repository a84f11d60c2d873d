package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// Level aggregates consecutive orders of one kind and price
type Level struct {
	Kind      models.KindTag   `json:"-"`
	KindName  string           `json:"kind"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	AmountKWh decimal.Decimal  `json:"amount_kwh"`
	Orders    int              `json:"orders"`
}

// Depth is a point-in-time view of a book
type Depth struct {
	Zone            models.Zone      `json:"zone"`
	Window          models.Window    `json:"window"`
	Bids            []Level          `json:"bids"`
	Asks            []Level          `json:"asks"`
	BestBid         *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk         *decimal.Decimal `json:"best_ask,omitempty"`
	Spread          *decimal.Decimal `json:"spread,omitempty"`
	TotalBuyKWh     decimal.Decimal  `json:"total_buy_kwh"`
	TotalSellKWh    decimal.Decimal  `json:"total_sell_kwh"`
	IndicativePrice *decimal.Decimal `json:"indicative_price,omitempty"`
	Halted          bool             `json:"halted"`
	Faulted         bool             `json:"faulted"`
}

// Depth aggregates both sides into price levels
func (b *Book) Depth() Depth {
	d := Depth{
		Zone:    b.zone,
		Window:  b.window,
		Halted:  b.Restricted(),
		Faulted: b.fault != nil,
	}
	d.Bids, d.TotalBuyKWh = levels(b.bids)
	d.Asks, d.TotalSellKWh = levels(b.asks)
	d.BestBid = bestLimit(b.bids)
	d.BestAsk = bestLimit(b.asks)
	if d.BestBid != nil && d.BestAsk != nil {
		spread := d.BestAsk.Sub(*d.BestBid)
		d.Spread = &spread
	}
	return d
}

func levels(orders []*models.Order) ([]Level, decimal.Decimal) {
	out := []Level{}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Remaining)
		price, hasPrice := o.Kind.LimitPrice()
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Kind == o.Kind.Tag() && (!hasPrice || last.Price.Equal(price)) {
				last.AmountKWh = last.AmountKWh.Add(o.Remaining)
				last.Orders++
				continue
			}
		}
		lvl := Level{Kind: o.Kind.Tag(), KindName: o.Kind.Tag().String(), AmountKWh: o.Remaining, Orders: 1}
		if hasPrice {
			lvl.Price = &price
		}
		out = append(out, lvl)
	}
	return out, total
}

// bestLimit is the best priced limit order of a side; priority and market
// orders carry no price and rank ahead of it.
func bestLimit(orders []*models.Order) *decimal.Decimal {
	for _, o := range orders {
		if p, ok := o.Kind.LimitPrice(); ok {
			return &p
		}
	}
	return nil
}
