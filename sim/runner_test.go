package sim

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/gateway"
	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/strategy"
)

func unitParams() engine.Params {
	return engine.Params{
		SpreadPct:     0.02,
		Step:          10_000,
		Tolerance:     10_000,
		RebuildEvery:  30,
		Tiers:         []strategy.SizeTier{{Threshold: decimal.Zero, Amount: decimal.NewFromInt(1)}},
		StopLossPct:   0.05,
		TakeProfitPct: 0.03,
	}
}

func TestPaperBrokerNotes(t *testing.T) {
	b := NewPaperBroker()
	one := decimal.NewFromInt(1)

	f, err := b.SubmitBuy(context.Background(), gateway.BuyRequest{Price: 1, Quantity: one})
	require.NoError(t, err)
	assert.Equal(t, "sim_buy", f.Raw)
	assert.True(t, f.Quantity.Equal(one))

	for reason, note := range map[gateway.SellReason]string{
		gateway.ReasonGrid:       "sim_sell",
		gateway.ReasonStopLoss:   "sim_sl_sell",
		gateway.ReasonTakeProfit: "sim_tp_sell",
	} {
		f, err := b.SubmitSell(context.Background(), gateway.SellRequest{Price: 1, Quantity: one, Reason: reason})
		require.NoError(t, err)
		assert.Equal(t, note, f.Raw)
	}
	assert.Equal(t, 4, b.Orders())

	_, err = b.SubmitSell(context.Background(), gateway.SellRequest{Price: 1, Quantity: decimal.Zero})
	assert.ErrorIs(t, err, gateway.ErrExecutionFailed)
}

func TestRunnerBacktest(t *testing.T) {
	mem := recorder.NewMemory()
	r, err := BuildRunner(RunnerConfig{
		Params:       unitParams(),
		InitialQuote: decimal.NewFromInt(2_000_000),
		Tracking:     inventory.TrackingFIFO,
		Recorder:     mem,
	})
	require.NoError(t, err)

	// 买 -> 买 -> 止盈清仓
	rep, err := r.Run(context.Background(), []int64{1_000_000, 1_000_000, 1_040_000})
	require.NoError(t, err)

	assert.Equal(t, uint64(3), rep.Ticks)
	assert.Equal(t, 2, rep.Actions[recorder.KindBuy])
	assert.Equal(t, 1, rep.Actions[recorder.KindTakeProfitSell])
	assert.Equal(t, "2080000", rep.Final.Value.String())
	assert.Equal(t, "4", rep.ReturnPct.String())
	assert.Equal(t, "2000000", rep.HoldValueEnd.String())
	assert.True(t, mem.Closed())
	assert.Len(t, mem.Records(), 3)
	assert.Contains(t, rep.String(), "tp=1")
}

func TestRunnerHalts(t *testing.T) {
	r, err := BuildRunner(RunnerConfig{Params: unitParams()})
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), []int64{100, 200})
	require.NoError(t, err)
	assert.True(t, rep.Halted)
	assert.Equal(t, uint64(0), rep.Ticks)
}

func TestBuildRunnerRejectsBadConfig(t *testing.T) {
	p := unitParams()
	p.Step = 0
	_, err := BuildRunner(RunnerConfig{Params: p, InitialQuote: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)

	_, err = BuildRunner(RunnerConfig{Params: unitParams(), Tracking: "lifo"})
	assert.Error(t, err)
}

func TestBalancesNeverNegativeOverLongRandomWalk(t *testing.T) {
	for _, tracking := range []inventory.TrackingKind{inventory.TrackingAggregate, inventory.TrackingFIFO} {
		for _, gate := range []bool{false, true} {
			tracking, gate := tracking, gate
			t.Run(fmt.Sprintf("%s/gate=%v", tracking, gate), func(t *testing.T) {
				p := engine.DefaultParams()
				p.ProfitGate = gate
				r, err := BuildRunner(RunnerConfig{
					Params:       p,
					InitialQuote: decimal.NewFromInt(5_000_000),
					Tracking:     tracking,
				})
				require.NoError(t, err)
				walk, err := NewRandomWalk(925_000_000, 2_000_000, 42)
				require.NoError(t, err)

				ledger := r.Engine.Ledger()
				applied := 0
				for i := 0; i < 20_000; i++ {
					res := r.Engine.OnTick(context.Background(), walk.Next())
					if res.Outcome == engine.OutcomeApplied {
						applied++
					}
					require.False(t, ledger.Quote().IsNegative(), "tick %d quote %s", i, ledger.Quote())
					require.False(t, ledger.Base().IsNegative(), "tick %d base %s", i, ledger.Base())
					if res.Outcome == engine.OutcomeHalted {
						break
					}
				}
				assert.Positive(t, applied)
				assert.NoError(t, r.Engine.Close())
			})
		}
	}
}
