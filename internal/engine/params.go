package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/strategy"
)

// Mode 运行模式，构造时决定使用哪些端口实现。
type Mode string

const (
	// ModeSimulation 随机游走价格 + 模拟成交
	ModeSimulation Mode = "SIMULATION"
	// ModeHybrid 实时价格 + 模拟成交
	ModeHybrid Mode = "HYBRID"
	// ModeLive 实时价格 + 实盘下单 + 余额同步
	ModeLive Mode = "LIVE"
)

// ParseMode 不区分大小写。
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeSimulation, ModeHybrid, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", strategy.ErrInvalidConfiguration, s)
	}
}

// Params 可热更新的策略参数。
type Params struct {
	SpreadPct    float64 // 网格半宽，小数（0.02 = ±2%）
	Step         int64
	Tolerance    int64
	RebuildEvery uint64 // 每 N 个 tick 重建网格，0 表示不定期重建
	Tiers        []strategy.SizeTier
	MaxNotional  decimal.Decimal // <= 0 不限

	StopLossPct   float64
	TakeProfitPct float64
	ProfitGate    bool
}

// DefaultParams 默认参数（IDR 计价）。
func DefaultParams() Params {
	return Params{
		SpreadPct:     0.02,
		Step:          50_000,
		Tolerance:     50_000,
		RebuildEvery:  30,
		Tiers:         strategy.DefaultTiers(),
		MaxNotional:   decimal.NewFromInt(500_000),
		StopLossPct:   0.05,
		TakeProfitPct: 0.03,
	}
}

// Validate 所有错误都包装 strategy.ErrInvalidConfiguration。
func (p Params) Validate() error {
	if err := strategy.ValidateGridParams(p.SpreadPct, p.Step); err != nil {
		return err
	}
	if err := strategy.ValidateTiers(p.Tiers); err != nil {
		return err
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be >= 0", strategy.ErrInvalidConfiguration)
	}
	if p.StopLossPct < 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("%w: stop loss pct must be in [0,1)", strategy.ErrInvalidConfiguration)
	}
	if p.TakeProfitPct < 0 {
		return fmt.Errorf("%w: take profit pct must be >= 0", strategy.ErrInvalidConfiguration)
	}
	return nil
}

// gridChanged 网格形状参数是否变化。
func (p Params) gridChanged(other Params) bool {
	return p.SpreadPct != other.SpreadPct || p.Step != other.Step
}

// Config 引擎配置
type Config struct {
	Pair          string
	Mode          Mode
	TickInterval  time.Duration
	FetchTimeout  time.Duration
	SubmitTimeout time.Duration
	Params        Params
}

func validateConfig(cfg Config) error {
	if cfg.Pair == "" {
		return fmt.Errorf("%w: pair is required", strategy.ErrInvalidConfiguration)
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return err
	}
	return cfg.Params.Validate()
}
