package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExecutor 默认按请求量全部成交。
type fakeExecutor struct {
	mu      sync.Mutex
	buys    []gateway.BuyRequest
	sells   []gateway.SellRequest
	err     error
	fillQty *decimal.Decimal
}

func (f *fakeExecutor) fill(req decimal.Decimal, raw string) (gateway.Fill, error) {
	if f.err != nil {
		return gateway.Fill{}, f.err
	}
	q := req
	if f.fillQty != nil {
		q = *f.fillQty
	}
	return gateway.Fill{Quantity: q, Raw: raw}, nil
}

func (f *fakeExecutor) SubmitBuy(_ context.Context, req gateway.BuyRequest) (gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, req)
	return f.fill(req.Quantity, "sim_buy")
}

func (f *fakeExecutor) SubmitSell(_ context.Context, req gateway.SellRequest) (gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, req)
	return f.fill(req.Quantity, "sim_"+string(req.Reason))
}

type fakePrices struct {
	mu     sync.Mutex
	prices []int64
	errs   int
}

func (f *fakePrices) FetchPrice(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs > 0 {
		f.errs--
		return 0, gateway.ErrPriceUnavailable
	}
	if len(f.prices) == 0 {
		return 1_000_000, nil
	}
	p := f.prices[0]
	if len(f.prices) > 1 {
		f.prices = f.prices[1:]
	}
	return p, nil
}

type fakeBalances struct {
	quote, base decimal.Decimal
	err         error
}

func (f fakeBalances) FetchBalances(context.Context) (decimal.Decimal, decimal.Decimal, error) {
	return f.quote, f.base, f.err
}

// unitParams 单档每次 1 个基础币，便于手算。
func unitParams() Params {
	return Params{
		SpreadPct:     0.02,
		Step:          10_000,
		Tolerance:     10_000,
		RebuildEvery:  30,
		Tiers:         []strategy.SizeTier{{Threshold: decimal.Zero, Amount: decimal.NewFromInt(1)}},
		StopLossPct:   0.05,
		TakeProfitPct: 0.03,
	}
}

type harness struct {
	engine *TradingEngine
	exec   *fakeExecutor
	rec    *recorder.Memory
	ledger *inventory.Ledger
}

func newHarness(t *testing.T, p Params, quote, base string) *harness {
	t.Helper()
	ledger, err := inventory.NewLedger(dec(quote), dec(base), &inventory.AggregateTracker{})
	require.NoError(t, err)
	h := &harness{exec: &fakeExecutor{}, rec: recorder.NewMemory(), ledger: ledger}
	h.engine, err = New(Config{Pair: "btc_idr", Mode: ModeSimulation, Params: p}, Components{
		Executor: h.exec,
		Ledger:   ledger,
		Recorder: h.rec,
		Clock:    risk.FixedClock{T: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return h
}

func TestOnTickBuysAtDefaults(t *testing.T) {
	h := newHarness(t, DefaultParams(), "5000000", "0")

	res := h.engine.OnTick(context.Background(), 925_000_000)
	require.Equal(t, OutcomeApplied, res.Outcome, res.Note)
	assert.Equal(t, recorder.KindBuy, res.Kind)
	assert.Equal(t, int64(925_000_000), res.Closest)
	assert.Equal(t, "0.0001", res.Quantity.String())
	assert.Equal(t, "4907500", h.ledger.Quote().String())
	assert.Equal(t, "0.0001", h.ledger.Base().String())

	require.Len(t, h.exec.buys, 1)
	assert.Equal(t, "92500", h.exec.buys[0].Notional.String())

	recs := h.rec.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "SIMULATION", recs[0].Mode)
	assert.Equal(t, "sim_buy", recs[0].Note)
	assert.True(t, recs[0].Requested.IsZero())

	g := h.engine.Grid()
	assert.Equal(t, int64(906_500_000), g.Low())
	assert.Equal(t, int64(943_500_000), g.High())
	assert.Equal(t, uint64(1), h.engine.TickCount())
}

func TestOnTickSellsWhenBuyBlocked(t *testing.T) {
	h := newHarness(t, unitParams(), "0", "3")

	res := h.engine.OnTick(context.Background(), 1_000_000)
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, recorder.KindSell, res.Kind)
	assert.Equal(t, "1000000", h.ledger.Quote().String())
	assert.Equal(t, "2", h.ledger.Base().String())
	require.Len(t, h.exec.sells, 1)
	assert.Equal(t, gateway.ReasonGrid, h.exec.sells[0].Reason)
}

func TestOnTickSellWithoutBaseIsNoop(t *testing.T) {
	h := newHarness(t, DefaultParams(), "1", "0")

	res := h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.ErrorIs(t, res.Err, inventory.ErrInsufficientInventory)
	assert.Equal(t, "1", h.ledger.Quote().String())
	assert.True(t, h.ledger.Base().IsZero())
	assert.Empty(t, h.rec.Records())
	assert.Empty(t, h.exec.sells)
}

func TestStopLossReplacesGridDecision(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")

	res := h.engine.OnTick(context.Background(), 1_000_000)
	require.Equal(t, recorder.KindBuy, res.Kind)
	entry, ok := h.ledger.ActiveEntry()
	require.True(t, ok)
	require.Equal(t, int64(1_000_000), entry)

	// 940k 本来满足买入条件，但止损优先
	res = h.engine.OnTick(context.Background(), 940_000)
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, recorder.KindStopLossSell, res.Kind)
	assert.Equal(t, risk.TriggerStopLoss, res.Trigger)
	assert.Equal(t, "1", res.Quantity.String())
	assert.Equal(t, "9940000", h.ledger.Quote().String())
	assert.True(t, h.ledger.Base().IsZero())

	recs := h.rec.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, recorder.KindStopLossSell, recs[1].Kind)
	assert.Equal(t, "sim_stop_loss", recs[1].Note)
	assert.Equal(t, risk.StateNone, h.engine.stops.State())
}

func TestTakeProfit(t *testing.T) {
	h := newHarness(t, unitParams(), "1000000", "0")

	require.Equal(t, recorder.KindBuy, h.engine.OnTick(context.Background(), 1_000_000).Kind)
	res := h.engine.OnTick(context.Background(), 1_030_000)
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, recorder.KindTakeProfitSell, res.Kind)
	assert.Equal(t, "1030000", h.ledger.Quote().String())
}

func TestProfitGate(t *testing.T) {
	p := unitParams()
	p.ProfitGate = true
	p.StopLossPct, p.TakeProfitPct = 0, 0
	h := newHarness(t, p, "1000000", "0")

	require.Equal(t, recorder.KindBuy, h.engine.OnTick(context.Background(), 1_000_000).Kind)

	res := h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.ErrorIs(t, res.Err, risk.ErrProfitGate)
	assert.Equal(t, "1", h.ledger.Base().String())

	res = h.engine.OnTick(context.Background(), 1_010_000)
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, recorder.KindSell, res.Kind)
}

func TestExecutionFailureLeavesLedger(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")
	h.exec.err = errors.New("network down")

	res := h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeExecutionFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, gateway.ErrExecutionFailed)
	assert.Equal(t, "10000000", h.ledger.Quote().String())
	assert.Empty(t, h.rec.Records())

	zero := decimal.Zero
	h.exec.err = nil
	h.exec.fillQty = &zero
	res = h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeExecutionFailed, res.Outcome)
	assert.True(t, h.ledger.Base().IsZero())
	assert.Equal(t, uint64(2), h.engine.Statistics().ExecutionFailures)
}

func TestPartialFillRecordsRequested(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")
	partial := dec("0.4")
	h.exec.fillQty = &partial

	res := h.engine.OnTick(context.Background(), 1_000_000)
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "0.4", h.ledger.Base().String())

	recs := h.rec.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "0.4", recs[0].Quantity.String())
	assert.Equal(t, "1", recs[0].Requested.String())
}

func TestHaltOnZeroPortfolio(t *testing.T) {
	h := newHarness(t, unitParams(), "0", "0")

	res := h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.True(t, h.engine.Halted())
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Equal(t, uint64(0), h.engine.TickCount())

	res = h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, OutcomeHalted, res.Outcome)
}

func TestGridRebuildEveryN(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")
	h.exec.err = errors.New("reject")

	for i := 0; i < 29; i++ {
		h.engine.OnTick(context.Background(), 1_000_000)
	}
	before := h.engine.Grid()
	assert.Equal(t, int64(980_000), before.Low())
	assert.Equal(t, int64(1_020_000), before.High())

	res := h.engine.OnTick(context.Background(), 2_000_000)
	assert.Equal(t, uint64(30), res.Tick)
	after := h.engine.Grid()
	assert.Equal(t, int64(1_960_000), after.Low())
	assert.Equal(t, int64(2_040_000), after.High())
	assert.Equal(t, uint64(2), h.engine.Statistics().GridRebuilds)
}

func TestReconfigureAppliedNextTick(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")
	h.exec.err = errors.New("reject")
	h.engine.OnTick(context.Background(), 1_000_000)

	bad := unitParams()
	bad.Step = 0
	assert.ErrorIs(t, h.engine.Reconfigure(bad), strategy.ErrInvalidConfiguration)

	p := unitParams()
	p.Step = 20_000
	require.NoError(t, h.engine.Reconfigure(p))
	assert.Equal(t, int64(10_000), h.engine.Params().Step)
	assert.Equal(t, int64(10_000), h.engine.Grid().Step())

	h.engine.OnTick(context.Background(), 1_000_000)
	assert.Equal(t, int64(20_000), h.engine.Params().Step)
	assert.Equal(t, int64(20_000), h.engine.Grid().Step())
}

func TestLiveModeSyncsBalances(t *testing.T) {
	ledger, err := inventory.NewLedger(decimal.Zero, decimal.Zero, nil)
	require.NoError(t, err)
	exec := &fakeExecutor{err: errors.New("reject")}
	cfg := Config{Pair: "btc_idr", Mode: ModeLive, Params: unitParams()}

	_, err = New(cfg, Components{Executor: exec, Ledger: ledger})
	require.Error(t, err)

	e, err := New(cfg, Components{
		Executor: exec,
		Ledger:   ledger,
		Balances: fakeBalances{quote: dec("2500000"), base: dec("0.5")},
	})
	require.NoError(t, err)

	res := e.OnTick(context.Background(), 1_000_000)
	assert.NotEqual(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, "2500000", ledger.Quote().String())
	assert.Equal(t, "0.5", ledger.Base().String())
	assert.Equal(t, "3000000", res.Snapshot.Value.String())
}

func TestRunStopsOnCancel(t *testing.T) {
	ledger, err := inventory.NewLedger(dec("10000000"), decimal.Zero, nil)
	require.NoError(t, err)
	rec := recorder.NewMemory()
	prices := &fakePrices{prices: []int64{1_000_000}, errs: 2}
	e, err := New(Config{Pair: "btc_idr", Mode: ModeHybrid, TickInterval: time.Millisecond, Params: unitParams()}, Components{
		Prices:   prices,
		Executor: &fakeExecutor{},
		Ledger:   ledger,
		Recorder: rec,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.TickCount() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, rec.Closed())
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, uint64(2), e.Statistics().SkippedTicks)
	assert.Error(t, e.Run(context.Background()))
}

func TestRunReturnsOnHalt(t *testing.T) {
	ledger, err := inventory.NewLedger(decimal.Zero, decimal.Zero, nil)
	require.NoError(t, err)
	e, err := New(Config{Pair: "btc_idr", Mode: ModeSimulation, TickInterval: time.Millisecond, Params: unitParams()}, Components{
		Prices:   &fakePrices{},
		Executor: &fakeExecutor{},
		Ledger:   ledger,
	})
	require.NoError(t, err)
	assert.NoError(t, e.Run(context.Background()))
	assert.True(t, e.Halted())
}

func TestNewValidation(t *testing.T) {
	ledger, _ := inventory.NewLedger(decimal.Zero, decimal.Zero, nil)
	_, err := New(Config{Pair: "", Mode: ModeSimulation, Params: unitParams()}, Components{Executor: &fakeExecutor{}, Ledger: ledger})
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)

	_, err = New(Config{Pair: "btc_idr", Mode: "PAPER", Params: unitParams()}, Components{Executor: &fakeExecutor{}, Ledger: ledger})
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)

	_, err = New(Config{Pair: "btc_idr", Mode: ModeSimulation, Params: unitParams()}, Components{Ledger: ledger})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" hybrid ")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)
	_, err = ParseMode("paper")
	assert.Error(t, err)
}

type fakeAlerts struct {
	got []alert.Alert
}

func (f *fakeAlerts) SendAlert(a alert.Alert) error {
	f.got = append(f.got, a)
	return nil
}

func TestAlertsOnRiskEvents(t *testing.T) {
	h := newHarness(t, unitParams(), "10000000", "0")
	alerts := &fakeAlerts{}
	h.engine.alerts = alerts

	h.engine.OnTick(context.Background(), 1_000_000)
	assert.Empty(t, alerts.got)

	h.engine.OnTick(context.Background(), 940_000)
	require.Len(t, alerts.got, 1)
	assert.Equal(t, alert.LevelWarning, alerts.got[0].Level)
	assert.Equal(t, string(recorder.KindStopLossSell), alerts.got[0].Message)
	assert.Equal(t, "btc_idr", alerts.got[0].Fields["pair"])

	h.exec.err = errors.New("rejected")
	h.engine.OnTick(context.Background(), 940_000)
	require.Len(t, alerts.got, 2)
	assert.Equal(t, alert.LevelError, alerts.got[1].Level)
}

func TestAlertOnHalt(t *testing.T) {
	h := newHarness(t, unitParams(), "0", "0")
	alerts := &fakeAlerts{}
	h.engine.alerts = alerts

	h.engine.OnTick(context.Background(), 1_000_000)
	require.Len(t, alerts.got, 1)
	assert.Equal(t, alert.LevelCritical, alerts.got[0].Level)
}
