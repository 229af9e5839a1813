package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态（含资产归零后的终止）
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Components 引擎依赖组件
type Components struct {
	Prices   gateway.PriceSource   // Run 需要；只用 OnTick 时可为空
	Executor gateway.Executor      // 必需
	Balances gateway.BalanceSource // 仅 LIVE
	Ledger   *inventory.Ledger     // 必需
	Recorder recorder.Recorder
	Logger   *logger.Logger
	Clock    risk.Clock
	Alerts   Alerter // 可选
}

// Alerter 风控事件告警出口（*alert.Manager）。
type Alerter interface {
	SendAlert(a alert.Alert) error
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime         time.Time
	TotalTicks        uint64
	SkippedTicks      uint64
	Buys              uint64
	Sells             uint64
	StopLosses        uint64
	TakeProfits       uint64
	Noops             uint64
	ExecutionFailures uint64
	GridRebuilds      uint64
	LastTickTime      time.Time
}

// TradingEngine 单线程的网格决策引擎；tick 之间才观察取消与参数更新。
type TradingEngine struct {
	config   Config
	prices   gateway.PriceSource
	executor gateway.Executor
	balances gateway.BalanceSource
	ledger   *inventory.Ledger
	recorder recorder.Recorder
	logger   *logger.Logger
	clock    risk.Clock
	alerts   Alerter
	stops    *risk.StopManager

	mu     sync.RWMutex
	state  EngineState
	params Params
	guard  risk.Guard
	grid   strategy.Grid
	stale  bool
	tick   uint64
	halted bool
	last   inventory.Snapshot

	reloadMu sync.Mutex
	reloads  chan Params

	stopChan  chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	statsMu sync.RWMutex
	stats   Statistics
}

// New 创建交易引擎
func New(cfg Config, components Components) (*TradingEngine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(cfg, components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	// 设置默认值
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 6 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if components.Recorder == nil {
		components.Recorder = recorder.Multi{}
	}
	if components.Logger == nil {
		components.Logger = logger.NewNop()
	}
	if components.Clock == nil {
		components.Clock = risk.NowUTC
	}
	balances := components.Balances
	if cfg.Mode != ModeLive {
		balances = nil
	}

	e := &TradingEngine{
		config:   cfg,
		prices:   components.Prices,
		executor: components.Executor,
		balances: balances,
		ledger:   components.Ledger,
		recorder: components.Recorder,
		logger:   components.Logger.WithFields(map[string]interface{}{"pair": cfg.Pair, "mode": string(cfg.Mode)}),
		clock:    components.Clock,
		alerts:   components.Alerts,
		stops:    risk.NewStopManager(cfg.Params.StopLossPct, cfg.Params.TakeProfitPct),
		state:    StateIdle,
		reloads:  make(chan Params, 1),
		stopChan: make(chan struct{}),
	}
	e.setParams(cfg.Params)
	return e, nil
}

func validateComponents(cfg Config, c Components) error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if cfg.Mode == ModeLive && c.Balances == nil {
		return fmt.Errorf("balance source is required in %s mode", ModeLive)
	}
	return nil
}

// setParams 调用方持有 e.mu 或处于构造阶段。
func (e *TradingEngine) setParams(p Params) {
	if p.gridChanged(e.params) {
		e.stale = true
	}
	e.params = p
	e.stops.SetThresholds(p.StopLossPct, p.TakeProfitPct)
	if p.ProfitGate {
		e.guard = risk.ProfitGate{Entries: e.ledger}
	} else {
		e.guard = risk.MultiGuard{}
	}
}

// Reconfigure 校验后排队，下一个 tick 开始时生效；未生效的旧参数被覆盖。
func (e *TradingEngine) Reconfigure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	select {
	case <-e.reloads:
	default:
	}
	e.reloads <- p
	return nil
}

func (e *TradingEngine) applyPending() {
	select {
	case p := <-e.reloads:
		e.mu.Lock()
		e.setParams(p)
		e.mu.Unlock()
		e.logger.Info("Parameters reloaded",
			zap.Float64("spread_pct", p.SpreadPct),
			zap.Int64("step", p.Step),
			zap.Int64("tolerance", p.Tolerance),
			zap.Bool("profit_gate", p.ProfitGate))
	default:
	}
}

// Run 主循环：每个间隔取价并处理一个 tick，直到 ctx 取消、Stop 或资产归零。
// 返回前关闭 Recorder。
func (e *TradingEngine) Run(ctx context.Context) error {
	if e.prices == nil {
		return fmt.Errorf("price source is required to run")
	}
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.clock.Now()
	e.statsMu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		if err := e.Close(); err != nil {
			e.logger.Error("Failed to close recorder", zap.Error(err))
		}
	}()

	e.logger.Info("Trading engine starting",
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.String("quote", e.ledger.Quote().String()),
		zap.String("base", e.ledger.Base().String()))

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		if res := e.step(ctx); res.Outcome == OutcomeHalted {
			e.logger.Warn("Trading engine halted", zap.String("reason", res.Note))
			return nil
		}

		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping engine")
			return nil
		case <-e.stopChan:
			e.logger.Info("Stop signal received")
			return nil
		case <-ticker.C:
		}
	}
}

// step 取价后处理一个 tick；取价失败跳过且不计数。
func (e *TradingEngine) step(ctx context.Context) TickResult {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.FetchTimeout)
	price, err := e.prices.FetchPrice(fctx, e.config.Pair)
	cancel()
	if err != nil || price <= 0 {
		e.recordSkip(err, price)
		return TickResult{Outcome: OutcomeSkipped, Err: err}
	}
	return e.OnTick(ctx, price)
}

// Stop 通知 Run 在当前 tick 结束后退出。
func (e *TradingEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// Close 关闭 Recorder，只执行一次。
func (e *TradingEngine) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.recorder.Close() })
	return err
}

// State 当前状态
func (e *TradingEngine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Halted 资产归零后为 true。
func (e *TradingEngine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// Params 当前生效的参数。
func (e *TradingEngine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// Grid 当前网格（未建时为空）。
func (e *TradingEngine) Grid() strategy.Grid {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid
}

// TickCount 已处理的 tick 数。
func (e *TradingEngine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

// Snapshot 最近一次 tick 结束时的账本视图。
func (e *TradingEngine) Snapshot() inventory.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Ledger 返回注入的账本。
func (e *TradingEngine) Ledger() *inventory.Ledger { return e.ledger }

// Statistics 返回统计快照
func (e *TradingEngine) Statistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// RebuildGrid 以 reference 立即重建网格。
func (e *TradingEngine) RebuildGrid(reference int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(reference)
}
