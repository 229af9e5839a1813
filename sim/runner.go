package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
)

// Runner 把价格序列逐个喂给引擎（回测），不等待 tick 间隔。
type Runner struct {
	Engine *engine.TradingEngine
	Broker *PaperBroker
}

// Report 回测结果摘要。
type Report struct {
	Ticks        uint64
	Skipped      int
	Actions      map[recorder.Kind]int
	Noops        int
	Failures     int
	Halted       bool
	StartValue   decimal.Decimal
	Final        inventory.Snapshot
	ReturnPct    decimal.Decimal
	FirstPrice   int64
	LastPrice    int64
	HoldValueEnd decimal.Decimal // 不交易、一直持有初始仓位的期末价值
}

// Run 依次处理 prices；ctx 取消时在 tick 之间停止。结束时关闭 Recorder。
func (r *Runner) Run(ctx context.Context, prices []int64) (Report, error) {
	if r.Engine == nil {
		return Report{}, errors.New("runner not initialized")
	}
	defer r.Engine.Close()

	rep := Report{Actions: make(map[recorder.Kind]int)}
	if len(prices) == 0 {
		return rep, nil
	}

	ledger := r.Engine.Ledger()
	startQuote, startBase := ledger.Quote(), ledger.Base()
	rep.FirstPrice = prices[0]
	rep.StartValue = inventory.PortfolioValue(startQuote, startBase, prices[0])

	for _, p := range prices {
		if err := ctx.Err(); err != nil {
			break
		}
		res := r.Engine.OnTick(ctx, p)
		switch res.Outcome {
		case engine.OutcomeApplied:
			rep.Actions[res.Kind]++
		case engine.OutcomeNoop:
			rep.Noops++
		case engine.OutcomeExecutionFailed:
			rep.Failures++
		case engine.OutcomeSkipped:
			rep.Skipped++
		case engine.OutcomeHalted:
			rep.Halted = true
		}
		rep.LastPrice = p
		if rep.Halted {
			break
		}
	}

	rep.Ticks = r.Engine.TickCount()
	rep.Final = ledger.Snapshot(rep.LastPrice)
	rep.HoldValueEnd = inventory.PortfolioValue(startQuote, startBase, rep.LastPrice)
	if rep.StartValue.IsPositive() {
		rep.ReturnPct = rep.Final.Value.Sub(rep.StartValue).Div(rep.StartValue).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return rep, nil
}

// String 单行摘要。
func (rep Report) String() string {
	return fmt.Sprintf("ticks=%d buys=%d sells=%d sl=%d tp=%d noops=%d failures=%d halted=%v start=%s end=%s return=%s%% hold=%s",
		rep.Ticks,
		rep.Actions[recorder.KindBuy],
		rep.Actions[recorder.KindSell],
		rep.Actions[recorder.KindStopLossSell],
		rep.Actions[recorder.KindTakeProfitSell],
		rep.Noops, rep.Failures, rep.Halted,
		rep.StartValue.StringFixed(0), rep.Final.Value.StringFixed(0), rep.ReturnPct.String(), rep.HoldValueEnd.StringFixed(0))
}
