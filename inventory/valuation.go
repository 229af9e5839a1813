package inventory

import "github.com/shopspring/decimal"

// Snapshot 账本在某一价格下的只读视图。
type Snapshot struct {
	Quote      decimal.Decimal
	Base       decimal.Decimal
	Price      int64
	Value      decimal.Decimal // quote + base*price
	EntryPrice int64
	HasEntry   bool
	Unrealized decimal.Decimal // (price-entry)*base，无入场记录时为 0
	OpenLots   int
}

// PortfolioValue 计价币 + 基础币按 price 估值。
func PortfolioValue(quote, base decimal.Decimal, price int64) decimal.Decimal {
	return quote.Add(base.Mul(decimal.NewFromInt(price)))
}

// Snapshot 基于当前价格给出余额与估值。
func (l *Ledger) Snapshot(price int64) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{
		Quote:      l.quote,
		Base:       l.base,
		Price:      price,
		Value:      PortfolioValue(l.quote, l.base, price),
		Unrealized: decimal.Zero,
	}
	snap.EntryPrice, snap.HasEntry = l.tracker.ActiveEntryPrice()
	if snap.HasEntry {
		snap.Unrealized = decimal.NewFromInt(price - snap.EntryPrice).Mul(l.base)
	}
	if f, ok := l.tracker.(*FIFOTracker); ok {
		snap.OpenLots = len(f.positions)
	} else if snap.HasEntry {
		snap.OpenLots = 1
	}
	return snap
}
