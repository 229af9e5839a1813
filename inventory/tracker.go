package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryTracker 记录入场价，供止损止盈与利润门槛判断。
// 两种实现：FIFO 逐笔持仓、Aggregate 只保留最近一次买入价。
type EntryTracker interface {
	RecordEntry(price int64, qty decimal.Decimal, at time.Time)
	// ConsumeOnExit 在卖出 qty 后调用，baseBefore 为卖出前的基础币余额。
	ConsumeOnExit(qty, baseBefore decimal.Decimal)
	ActiveEntryPrice() (int64, bool)
	Reset()
}

// TrackingKind 跟踪策略名称（配置项 risk.tracking）。
type TrackingKind string

const (
	TrackingAggregate TrackingKind = "aggregate"
	TrackingFIFO      TrackingKind = "fifo"
)

// NewTracker 按名称构造跟踪器。
func NewTracker(kind TrackingKind) (EntryTracker, error) {
	switch TrackingKind(strings.ToLower(string(kind))) {
	case TrackingAggregate, "":
		return &AggregateTracker{}, nil
	case TrackingFIFO:
		return &FIFOTracker{}, nil
	default:
		return nil, fmt.Errorf("unknown tracking kind %q", kind)
	}
}

// Position 一笔买入形成的持仓。
type Position struct {
	EntryPrice int64
	Quantity   decimal.Decimal
	OpenedAt   time.Time
}

// FIFOTracker 逐笔记录持仓，卖出时先进先出消耗；部分消耗保留原入场价。
type FIFOTracker struct {
	positions []Position
}

func (f *FIFOTracker) RecordEntry(price int64, qty decimal.Decimal, at time.Time) {
	if !qty.IsPositive() {
		return
	}
	f.positions = append(f.positions, Position{EntryPrice: price, Quantity: qty, OpenedAt: at})
}

func (f *FIFOTracker) ConsumeOnExit(qty, _ decimal.Decimal) {
	remaining := qty
	for remaining.IsPositive() && len(f.positions) > 0 {
		head := &f.positions[0]
		if head.Quantity.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(head.Quantity)
			f.positions = f.positions[1:]
			continue
		}
		head.Quantity = head.Quantity.Sub(remaining)
		remaining = decimal.Zero
	}
}

// ActiveEntryPrice 最早一笔持仓的入场价。
func (f *FIFOTracker) ActiveEntryPrice() (int64, bool) {
	if len(f.positions) == 0 {
		return 0, false
	}
	return f.positions[0].EntryPrice, true
}

func (f *FIFOTracker) Reset() { f.positions = nil }

// Positions 返回持仓副本（最早的在前）。
func (f *FIFOTracker) Positions() []Position {
	out := make([]Position, len(f.positions))
	copy(out, f.positions)
	return out
}

// AggregateTracker 只记住最近一次买入价，全部卖出后清空。
type AggregateTracker struct {
	entry  int64
	active bool
}

func (a *AggregateTracker) RecordEntry(price int64, qty decimal.Decimal, _ time.Time) {
	if !qty.IsPositive() {
		return
	}
	a.entry = price
	a.active = true
}

func (a *AggregateTracker) ConsumeOnExit(qty, baseBefore decimal.Decimal) {
	if qty.GreaterThanOrEqual(baseBefore) {
		a.Reset()
	}
}

func (a *AggregateTracker) ActiveEntryPrice() (int64, bool) {
	return a.entry, a.active
}

func (a *AggregateTracker) Reset() {
	a.entry = 0
	a.active = false
}
