package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/risk"
)

// RunnerConfig 描述 Runner 的可选参数。
type RunnerConfig struct {
	Pair         string
	Params       engine.Params
	InitialQuote decimal.Decimal
	InitialBase  decimal.Decimal
	Tracking     inventory.TrackingKind
	Recorder     recorder.Recorder // 为空时使用内存记录
	Logger       *logger.Logger
	Clock        risk.Clock
}

// BuildRunner 基于配置快速组装 Runner（模拟成交，适合离线回测）。
func BuildRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Pair == "" {
		cfg.Pair = "btc_idr"
	}
	tracker, err := inventory.NewTracker(cfg.Tracking)
	if err != nil {
		return nil, err
	}
	ledger, err := inventory.NewLedger(cfg.InitialQuote, cfg.InitialBase, tracker)
	if err != nil {
		return nil, err
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.NewMemory()
	}

	broker := NewPaperBroker()
	eng, err := engine.New(engine.Config{
		Pair:   cfg.Pair,
		Mode:   engine.ModeSimulation,
		Params: cfg.Params,
	}, engine.Components{
		Executor: broker,
		Ledger:   ledger,
		Recorder: cfg.Recorder,
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return &Runner{Engine: eng, Broker: broker}, nil
}
