package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side 下单方向。
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Guard 是通用接口，下单前校验；返回错误则本次下单取消。
type Guard interface {
	PreOrder(side Side, price int64, qty decimal.Decimal) error
}

// MultiGuard 顺序执行多个 Guard，只要有一个返回错误则中止。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreOrder(side Side, price int64, qty decimal.Decimal) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreOrder(side, price, qty); err != nil {
			return err
		}
	}
	return nil
}

// EntrySource 提供当前入场价（通常是 inventory.Ledger）。
type EntrySource interface {
	ActiveEntry() (int64, bool)
}

// ProfitGate 网格卖出必须高于入场价，只作用于卖单。
type ProfitGate struct {
	Entries EntrySource
}

func (p ProfitGate) PreOrder(side Side, price int64, _ decimal.Decimal) error {
	if side != SideSell || p.Entries == nil {
		return nil
	}
	entry, ok := p.Entries.ActiveEntry()
	if !ok {
		return fmt.Errorf("%w: %w", ErrProfitGate, ErrNoEntry)
	}
	if price <= entry {
		return fmt.Errorf("%w: price %d <= entry %d", ErrProfitGate, price, entry)
	}
	return nil
}
