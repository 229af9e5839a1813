package inventory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidOrder          = errors.New("invalid order")
)

// Ledger 维护计价币/基础币余额与入场记录，是引擎唯一持有的可变状态。
// 所有校验先于修改完成，余额任何时刻都不会为负。
type Ledger struct {
	mu      sync.RWMutex
	quote   decimal.Decimal
	base    decimal.Decimal
	tracker EntryTracker
}

// NewLedger 用初始余额创建账本；tracker 为空时使用 AggregateTracker。
func NewLedger(quote, base decimal.Decimal, tracker EntryTracker) (*Ledger, error) {
	if quote.IsNegative() || base.IsNegative() {
		return nil, fmt.Errorf("initial balances must be >= 0 (quote=%s base=%s)", quote, base)
	}
	if tracker == nil {
		tracker = &AggregateTracker{}
	}
	return &Ledger{quote: quote, base: base, tracker: tracker}, nil
}

// ApplyBuy 以 price 买入 qty：扣减 price*qty 计价币，增加 qty 基础币并记录入场。
func (l *Ledger) ApplyBuy(price int64, qty decimal.Decimal, at time.Time) error {
	if price <= 0 || !qty.IsPositive() {
		return fmt.Errorf("%w: buy price=%d qty=%s", ErrInvalidOrder, price, qty)
	}
	cost := decimal.NewFromInt(price).Mul(qty)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quote.LessThan(cost) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, l.quote)
	}
	l.quote = l.quote.Sub(cost)
	l.base = l.base.Add(qty)
	l.tracker.RecordEntry(price, qty, at)
	return nil
}

// ApplySell 以 price 卖出 qty：增加 price*qty 计价币，扣减 qty 基础币并消耗入场记录。
func (l *Ledger) ApplySell(price int64, qty decimal.Decimal) error {
	if price <= 0 || !qty.IsPositive() {
		return fmt.Errorf("%w: sell price=%d qty=%s", ErrInvalidOrder, price, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.base.LessThan(qty) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientInventory, qty, l.base)
	}
	before := l.base
	l.quote = l.quote.Add(decimal.NewFromInt(price).Mul(qty))
	l.base = l.base.Sub(qty)
	l.tracker.ConsumeOnExit(qty, before)
	return nil
}

// Sync 用交易所返回的余额覆盖本地余额（LIVE 模式）。
// 基础币减少的部分按卖出处理，归零时清空入场记录。
func (l *Ledger) Sync(quote, base decimal.Decimal) error {
	if quote.IsNegative() || base.IsNegative() {
		return fmt.Errorf("%w: negative synced balance quote=%s base=%s", ErrInvalidOrder, quote, base)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case base.IsZero():
		l.tracker.Reset()
	case base.LessThan(l.base):
		l.tracker.ConsumeOnExit(l.base.Sub(base), l.base)
	}
	l.quote = quote
	l.base = base
	return nil
}

// Quote 可用计价币余额。
func (l *Ledger) Quote() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quote
}

// Base 基础币余额。
func (l *Ledger) Base() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base
}

// ActiveEntry 当前被跟踪的入场价。
func (l *Ledger) ActiveEntry() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tracker.ActiveEntryPrice()
}

// Positions 仅 FIFO 跟踪时有值。
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if f, ok := l.tracker.(*FIFOTracker); ok {
		return f.Positions()
	}
	return nil
}
