package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// StopState 止损止盈状态机状态。
type StopState int

const (
	StateNone StopState = iota
	StateArmed
)

func (s StopState) String() string {
	if s == StateArmed {
		return "ARMED"
	}
	return "NONE"
}

// Trigger Check 的结果。
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerStopLoss
	TriggerTakeProfit
)

func (t Trigger) String() string {
	switch t {
	case TriggerStopLoss:
		return "stop_loss"
	case TriggerTakeProfit:
		return "take_profit"
	default:
		return "none"
	}
}

// StopManager 跟踪单一入场价的止损/止盈线。
// NONE 状态下 Check 永远不触发；Sync 跟随账本的入场价完成 arm/re-arm/disarm。
type StopManager struct {
	mu    sync.Mutex
	slPct decimal.Decimal
	tpPct decimal.Decimal
	state StopState
	entry int64
	sl    decimal.Decimal
	tp    decimal.Decimal
}

// NewStopManager pct 为小数（0.05 = 5%），<= 0 表示关闭该侧。
func NewStopManager(stopLossPct, takeProfitPct float64) *StopManager {
	return &StopManager{
		slPct: decimal.NewFromFloat(stopLossPct),
		tpPct: decimal.NewFromFloat(takeProfitPct),
	}
}

// SetThresholds 热更新百分比；已 ARMED 时按原入场价重算。
func (m *StopManager) SetThresholds(stopLossPct, takeProfitPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slPct = decimal.NewFromFloat(stopLossPct)
	m.tpPct = decimal.NewFromFloat(takeProfitPct)
	if m.state == StateArmed {
		m.arm(m.entry)
	}
}

// Sync 与账本入场价保持一致。
func (m *StopManager) Sync(entry int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok || entry <= 0 {
		m.state = StateNone
		m.entry = 0
		return
	}
	if m.state == StateArmed && m.entry == entry {
		return
	}
	m.arm(entry)
}

func (m *StopManager) arm(entry int64) {
	one := decimal.NewFromInt(1)
	e := decimal.NewFromInt(entry)
	m.entry = entry
	m.sl = e.Mul(one.Sub(m.slPct))
	m.tp = e.Mul(one.Add(m.tpPct))
	m.state = StateArmed
}

// Check price <= sl 触发止损，price >= tp 触发止盈，止损优先。
func (m *StopManager) Check(price int64) Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateArmed {
		return TriggerNone
	}
	p := decimal.NewFromInt(price)
	if m.slPct.IsPositive() && p.LessThanOrEqual(m.sl) {
		return TriggerStopLoss
	}
	if m.tpPct.IsPositive() && p.GreaterThanOrEqual(m.tp) {
		return TriggerTakeProfit
	}
	return TriggerNone
}

func (m *StopManager) State() StopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Levels 返回当前入场价与止损/止盈线，未 ARMED 时 ok=false。
func (m *StopManager) Levels() (entry int64, stopLoss, takeProfit decimal.Decimal, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateArmed {
		return 0, decimal.Zero, decimal.Zero, false
	}
	return m.entry, m.sl, m.tp, true
}
