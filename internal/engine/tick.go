package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/inventory"
	"grid-trader-go/metrics"
	"grid-trader-go/recorder"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

// Outcome 一个 tick 的处理结果。
type Outcome string

const (
	OutcomeNoSignal        Outcome = "NO_SIGNAL"
	OutcomeApplied         Outcome = "APPLIED"
	OutcomeNoop            Outcome = "NOOP"
	OutcomeExecutionFailed Outcome = "EXECUTION_FAILED"
	OutcomeSkipped         Outcome = "SKIPPED"
	OutcomeHalted          Outcome = "HALTED"
)

// TickResult OnTick 的返回值，便于回测和测试断言。
type TickResult struct {
	Tick     uint64
	Price    int64
	Closest  int64
	Amount   decimal.Decimal
	Outcome  Outcome
	Kind     recorder.Kind
	Quantity decimal.Decimal
	Trigger  risk.Trigger
	Note     string
	Err      error
	Snapshot inventory.Snapshot
}

// decision 本 tick 最多一个动作；kind 为空表示不下单。
type decision struct {
	kind   recorder.Kind
	qty    decimal.Decimal
	reason gateway.SellReason
	noop   string // 指标标签
	note   string
	err    error
}

// OnTick 处理一个已取得的价格。调用方保证串行调用。
func (e *TradingEngine) OnTick(ctx context.Context, price int64) TickResult {
	if price <= 0 {
		err := fmt.Errorf("%w: non-positive price %d", gateway.ErrPriceUnavailable, price)
		e.recordSkip(err, price)
		return TickResult{Price: price, Outcome: OutcomeSkipped, Err: err}
	}
	if e.Halted() {
		return TickResult{Price: price, Outcome: OutcomeHalted, Note: "engine halted"}
	}

	e.applyPending()
	e.syncBalances(ctx)

	if snap := e.ledger.Snapshot(price); !snap.Value.IsPositive() {
		e.halt(snap)
		return TickResult{Price: price, Outcome: OutcomeHalted, Note: "portfolio value exhausted", Snapshot: snap}
	}

	e.mu.Lock()
	e.tick++
	tick := e.tick
	p := e.params
	if e.grid.IsEmpty() || e.stale || (p.RebuildEvery > 0 && tick%p.RebuildEvery == 0) {
		if err := e.rebuildLocked(price); err != nil {
			e.logger.Error("Grid rebuild failed, keeping previous grid", zap.Error(err), zap.Int64("price", price))
		}
	}
	grid, guard := e.grid, e.guard
	e.mu.Unlock()

	metrics.TicksTotal.Inc()
	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = e.clock.Now()
	e.statsMu.Unlock()

	res := TickResult{Tick: tick, Price: price, Closest: grid.Nearest(price)}
	quote, base := e.ledger.Quote(), e.ledger.Base()
	res.Amount = strategy.SizeFor(quote, price, p.Tiers, p.MaxNotional)

	d := decide(price, res.Closest, res.Amount, quote, base, p.Tolerance, guard)

	// 止损止盈优先于网格信号
	entry, ok := e.ledger.ActiveEntry()
	e.stops.Sync(entry, ok)
	if trig := e.stops.Check(price); trig != risk.TriggerNone && base.IsPositive() {
		res.Trigger = trig
		d = liquidation(trig, base)
		_, sl, tp, _ := e.stops.Levels()
		e.logger.LogRisk(trig.String(), map[string]interface{}{
			"price":       price,
			"entry":       entry,
			"stop_loss":   sl.String(),
			"take_profit": tp.String(),
			"base":        base.String(),
		})
	}

	e.execute(ctx, price, p, d, &res)

	entry, ok = e.ledger.ActiveEntry()
	e.stops.Sync(entry, ok)
	metrics.SetRiskArmed(e.stops.State() == risk.StateArmed)

	snap := e.ledger.Snapshot(price)
	res.Snapshot = snap
	e.mu.Lock()
	e.last = snap
	e.mu.Unlock()

	metrics.UpdateBalances(float64(price), snap.Quote.InexactFloat64(), snap.Base.InexactFloat64(), snap.Value.InexactFloat64())
	e.logger.LogTick(tick, map[string]interface{}{
		"price":   price,
		"closest": res.Closest,
		"quote":   snap.Quote.String(),
		"base":    snap.Base.String(),
		"pv":      snap.Value.String(),
		"outcome": string(res.Outcome),
	})
	return res
}

// decide 网格规则：先判断买入，买入未触发才判断卖出。
func decide(price, closest int64, amount, quote, base decimal.Decimal, tolerance int64, guard risk.Guard) decision {
	if !amount.IsPositive() {
		return decision{noop: "no_size", note: "no size available"}
	}

	var blocked *decision
	if price <= closest+tolerance {
		cost := decimal.NewFromInt(price).Mul(amount)
		if quote.GreaterThanOrEqual(cost) {
			return decision{kind: recorder.KindBuy, qty: amount}
		}
		blocked = &decision{
			noop: "insufficient_funds",
			note: fmt.Sprintf("buy signal, need %s have %s", cost, quote),
			err:  inventory.ErrInsufficientFunds,
		}
	}

	if price >= closest-tolerance {
		if base.LessThan(amount) {
			return decision{
				noop: "insufficient_inventory",
				note: fmt.Sprintf("sell signal, need %s have %s", amount, base),
				err:  inventory.ErrInsufficientInventory,
			}
		}
		if err := guard.PreOrder(risk.SideSell, price, amount); err != nil {
			return decision{noop: "profit_gate", note: err.Error(), err: err}
		}
		return decision{kind: recorder.KindSell, qty: amount, reason: gateway.ReasonGrid}
	}

	if blocked != nil {
		return *blocked
	}
	return decision{}
}

func liquidation(trig risk.Trigger, base decimal.Decimal) decision {
	if trig == risk.TriggerStopLoss {
		return decision{kind: recorder.KindStopLossSell, qty: base, reason: gateway.ReasonStopLoss}
	}
	return decision{kind: recorder.KindTakeProfitSell, qty: base, reason: gateway.ReasonTakeProfit}
}

// execute 提交到执行端口，成交后同步记账并写流水。
func (e *TradingEngine) execute(ctx context.Context, price int64, p Params, d decision, res *TickResult) {
	if d.kind == "" {
		if d.noop == "" {
			res.Outcome = OutcomeNoSignal
			return
		}
		res.Outcome = OutcomeNoop
		res.Note = d.note
		res.Err = d.err
		metrics.NoopsTotal.WithLabelValues(d.noop).Inc()
		e.statsMu.Lock()
		e.stats.Noops++
		e.statsMu.Unlock()
		e.logger.Debug("Signal not actionable", zap.String("reason", d.noop), zap.String("note", d.note))
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.SubmitTimeout)
	defer cancel()

	var (
		fill gateway.Fill
		err  error
		side = risk.SideSell
	)
	if d.kind == recorder.KindBuy {
		side = risk.SideBuy
		notional := decimal.NewFromInt(price).Mul(d.qty).Truncate(0)
		if p.MaxNotional.IsPositive() && notional.GreaterThan(p.MaxNotional) {
			notional = p.MaxNotional.Truncate(0)
		}
		fill, err = e.executor.SubmitBuy(sctx, gateway.BuyRequest{
			Pair: e.config.Pair, Price: price, Quantity: d.qty, Notional: notional,
		})
	} else {
		fill, err = e.executor.SubmitSell(sctx, gateway.SellRequest{
			Pair: e.config.Pair, Price: price, Quantity: d.qty, Reason: d.reason,
		})
	}
	if err == nil && !fill.Quantity.IsPositive() {
		err = fmt.Errorf("%w: zero fill", gateway.ErrExecutionFailed)
	}
	res.Kind = d.kind
	if err != nil {
		if !errors.Is(err, gateway.ErrExecutionFailed) {
			err = fmt.Errorf("%w: %w", gateway.ErrExecutionFailed, err)
		}
		res.Outcome = OutcomeExecutionFailed
		res.Err = err
		res.Note = fill.Raw
		metrics.ExecutionFailuresTotal.WithLabelValues(side.String()).Inc()
		e.statsMu.Lock()
		e.stats.ExecutionFailures++
		e.statsMu.Unlock()
		e.logger.LogError(err, map[string]interface{}{
			"kind":     string(d.kind),
			"price":    price,
			"quantity": d.qty.String(),
		})
		e.raise(alert.LevelError, "order execution failed", map[string]interface{}{
			"kind":  string(d.kind),
			"price": price,
			"error": err.Error(),
		})
		return
	}

	qty := fill.Quantity
	var applyErr error
	if d.kind == recorder.KindBuy {
		applyErr = e.ledger.ApplyBuy(price, qty, e.clock.Now())
	} else {
		applyErr = e.ledger.ApplySell(price, qty)
	}
	if applyErr != nil {
		// 实盘成交超出本地余额，等下一次余额同步纠正
		res.Outcome = OutcomeNoop
		res.Err = applyErr
		res.Note = fill.Raw
		metrics.NoopsTotal.WithLabelValues("ledger_rejected").Inc()
		e.statsMu.Lock()
		e.stats.Noops++
		e.statsMu.Unlock()
		e.logger.LogError(applyErr, map[string]interface{}{
			"kind":  string(d.kind),
			"price": price,
			"fill":  qty.String(),
		})
		return
	}

	rec := recorder.ActionRecord{
		Timestamp:    e.clock.Now(),
		Mode:         string(e.config.Mode),
		Kind:         d.kind,
		Price:        price,
		Quantity:     qty,
		QuoteBalance: e.ledger.Quote(),
		BaseBalance:  e.ledger.Base(),
		Note:         fill.Raw,
	}
	if !qty.Equal(d.qty) {
		rec.Requested = d.qty
	}
	e.recorder.Record(rec)

	res.Outcome = OutcomeApplied
	res.Quantity = qty
	res.Note = fill.Raw
	metrics.ActionsTotal.WithLabelValues(string(d.kind)).Inc()
	e.statsMu.Lock()
	switch d.kind {
	case recorder.KindBuy:
		e.stats.Buys++
	case recorder.KindSell:
		e.stats.Sells++
	case recorder.KindStopLossSell:
		e.stats.StopLosses++
	case recorder.KindTakeProfitSell:
		e.stats.TakeProfits++
	}
	e.statsMu.Unlock()
	if d.kind == recorder.KindStopLossSell || d.kind == recorder.KindTakeProfitSell {
		e.raise(alert.LevelWarning, string(d.kind), map[string]interface{}{
			"price":    price,
			"quantity": qty.String(),
			"quote":    rec.QuoteBalance.String(),
		})
	}
	e.logger.LogAction(string(d.kind), map[string]interface{}{
		"price":     price,
		"quantity":  qty.String(),
		"requested": d.qty.String(),
		"quote":     rec.QuoteBalance.String(),
		"base":      rec.BaseBalance.String(),
		"note":      fill.Raw,
	})
}

// syncBalances LIVE 模式下用交易所余额覆盖账本，失败时保留本地账本。
func (e *TradingEngine) syncBalances(ctx context.Context) {
	if e.balances == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.FetchTimeout)
	defer cancel()
	quote, base, err := e.balances.FetchBalances(bctx)
	if err != nil {
		e.logger.Warn("Balance sync failed, keeping local ledger", zap.Error(err))
		return
	}
	if err := e.ledger.Sync(quote, base); err != nil {
		e.logger.Warn("Balance sync rejected", zap.Error(err))
	}
}

func (e *TradingEngine) halt(snap inventory.Snapshot) {
	e.mu.Lock()
	e.halted = true
	e.state = StateStopped
	e.last = snap
	e.mu.Unlock()
	e.logger.LogRisk("portfolio_exhausted", map[string]interface{}{
		"price": snap.Price,
		"quote": snap.Quote.String(),
		"base":  snap.Base.String(),
	})
	e.raise(alert.LevelCritical, "portfolio value exhausted, engine halted", map[string]interface{}{
		"price": snap.Price,
		"value": snap.Value.String(),
	})
}

// raise 告警失败只记日志。
func (e *TradingEngine) raise(level alert.Level, msg string, fields map[string]interface{}) {
	if e.alerts == nil {
		return
	}
	fields["pair"] = e.config.Pair
	fields["mode"] = string(e.config.Mode)
	if err := e.alerts.SendAlert(alert.Alert{Level: level, Message: msg, Timestamp: e.clock.Now(), Fields: fields}); err != nil {
		e.logger.Warn("Failed to send alert", zap.Error(err))
	}
}

func (e *TradingEngine) recordSkip(err error, price int64) {
	metrics.PriceUnavailableTotal.Inc()
	e.statsMu.Lock()
	e.stats.SkippedTicks++
	e.statsMu.Unlock()
	e.logger.Warn("Price unavailable, skipping tick", zap.Error(err), zap.Int64("price", price))
}

// rebuildLocked 调用方持有 e.mu。
func (e *TradingEngine) rebuildLocked(reference int64) error {
	g, err := strategy.BuildGrid(reference, e.params.SpreadPct, e.params.Step)
	if err != nil {
		return err
	}
	e.grid = g
	e.stale = false
	metrics.UpdateGrid(g.Low(), g.High())
	e.statsMu.Lock()
	e.stats.GridRebuilds++
	e.statsMu.Unlock()
	e.logger.Debug("Grid rebuilt",
		zap.Int64("reference", reference),
		zap.Int64("low", g.Low()),
		zap.Int64("high", g.High()),
		zap.Int("levels", g.Len()))
	return nil
}
