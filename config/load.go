package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Mode      string          `yaml:"mode"` // SIMULATION / HYBRID / LIVE
	Pair      string          `yaml:"pair"`
	Grid      GridConfig      `yaml:"grid"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Risk      RiskConfig      `yaml:"risk"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Loop      LoopConfig      `yaml:"loop"`
	Sim       SimConfig       `yaml:"sim"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	HotReload HotReloadConfig `yaml:"hotReload"`
}

type GridConfig struct {
	SpreadPct    float64 `yaml:"spreadPct"`    // 网格半宽（小数）
	Step         int64   `yaml:"step"`         // 档位间距
	Tolerance    int64   `yaml:"tolerance"`    // 触发容差
	RebuildEvery uint64  `yaml:"rebuildEvery"` // 每 N 个 tick 重建
}

type TierConfig struct {
	Threshold float64 `yaml:"threshold"`
	Amount    float64 `yaml:"amount"`
}

type SizingConfig struct {
	MaxNotional float64      `yaml:"maxNotional"` // 单笔最大计价金额，<=0 不限
	Tiers       []TierConfig `yaml:"tiers"`
}

type RiskConfig struct {
	StopLossPct   float64 `yaml:"stopLossPct"`
	TakeProfitPct float64 `yaml:"takeProfitPct"`
	ProfitGate    bool    `yaml:"profitGate"` // 网格卖出必须高于入场价
	Tracking      string  `yaml:"tracking"`   // aggregate / fifo
}

type LedgerConfig struct {
	InitialQuote float64 `yaml:"initialQuote"`
	InitialBase  float64 `yaml:"initialBase"`
}

type LoopConfig struct {
	IntervalMs      int `yaml:"intervalMs"`
	FetchTimeoutMs  int `yaml:"fetchTimeoutMs"`
	SubmitTimeoutMs int `yaml:"submitTimeoutMs"`
}

type SimConfig struct {
	StartPrice int64 `yaml:"startPrice"`
	Volatility int64 `yaml:"volatility"`
	Seed       int64 `yaml:"seed"` // 0 表示按启动时间取种子
}

type GatewayConfig struct {
	APIKey    string  `yaml:"apiKey"`
	APISecret string  `yaml:"apiSecret"`
	BaseURL   string  `yaml:"baseURL"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RateLimit float64 `yaml:"rateLimit"` // 每秒请求数
	RateBurst int     `yaml:"rateBurst"`
	PriceFeed string  `yaml:"priceFeed"` // rest / ws
	WSURL     string  `yaml:"wsURL"`
	WSToken   string  `yaml:"wsToken"`
}

type RecorderConfig struct {
	CSVPath    string `yaml:"csvPath"`
	SQLitePath string `yaml:"sqlitePath"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 /metrics
}

// AlertsConfig 风控事件告警；始终写日志，配置 webhookURL 时额外推送。
type AlertsConfig struct {
	WebhookURL string `yaml:"webhookURL"`
	ThrottleMs int    `yaml:"throttleMs"` // 相同告警的最小间隔
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// Default 默认配置：模拟模式，btc_idr。
func Default() AppConfig {
	params := engine.DefaultParams()
	tiers := make([]TierConfig, 0, len(params.Tiers))
	for _, t := range params.Tiers {
		tiers = append(tiers, TierConfig{Threshold: t.Threshold.InexactFloat64(), Amount: t.Amount.InexactFloat64()})
	}
	return AppConfig{
		Mode: string(engine.ModeSimulation),
		Pair: "btc_idr",
		Grid: GridConfig{
			SpreadPct:    params.SpreadPct,
			Step:         params.Step,
			Tolerance:    params.Tolerance,
			RebuildEvery: params.RebuildEvery,
		},
		Sizing: SizingConfig{MaxNotional: 500_000, Tiers: tiers},
		Risk: RiskConfig{
			StopLossPct:   params.StopLossPct,
			TakeProfitPct: params.TakeProfitPct,
			Tracking:      "aggregate",
		},
		Ledger: LedgerConfig{InitialQuote: 5_000_000},
		Loop:   LoopConfig{IntervalMs: 1000, FetchTimeoutMs: 6000, SubmitTimeoutMs: 10000},
		Sim:    SimConfig{StartPrice: 925_000_000, Volatility: 2_000_000},
		Gateway: GatewayConfig{
			BaseURL:   "https://indodax.com",
			TimeoutMs: 10000,
			RateLimit: 2,
			RateBurst: 1,
			PriceFeed: "rest",
		},
		Recorder:  RecorderConfig{CSVPath: "trade_log.csv"},
		Log:       logger.DefaultConfig(),
		Alerts:    AlertsConfig{ThrottleMs: 60_000},
		HotReload: HotReloadConfig{CooldownMs: 1000},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
// An empty path returns the defaults.
func Load(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads envFile (if present, never overriding the real
// environment), then the YAML file, then applies env var overrides.
func LoadWithEnvOverrides(path, envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// applyEnv 环境变量覆盖（MODE、GRID_PERCENT 等），空值忽略。
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var firstErr error
	num := func(key string, set func(float64)) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			if firstErr == nil {
				firstErr = ErrInvalid(fmt.Sprintf("env %s: %v", key, err))
			}
			return
		}
		set(f)
	}

	str("MODE", &cfg.Mode)
	str("PAIR", &cfg.Pair)
	str("LOG_FILE", &cfg.Recorder.CSVPath)
	str("API_KEY", &cfg.Gateway.APIKey)
	str("API_SECRET", &cfg.Gateway.APISecret)
	str("ALERT_WEBHOOK_URL", &cfg.Alerts.WebhookURL)
	num("TOLERANCE", func(f float64) { cfg.Grid.Tolerance = int64(f) })
	num("GRID_PERCENT", func(f float64) { cfg.Grid.SpreadPct = f })
	num("GRID_STEP", func(f float64) { cfg.Grid.Step = int64(f) })
	num("SLEEP", func(f float64) { cfg.Loop.IntervalMs = int(f * 1000) })
	num("VOLATILITY", func(f float64) { cfg.Sim.Volatility = int64(f) })
	num("MAX_IDR_PER_ORDER", func(f float64) { cfg.Sizing.MaxNotional = f })
	num("STOP_LOSS_PCT", func(f float64) { cfg.Risk.StopLossPct = f })
	num("TAKE_PROFIT_PCT", func(f float64) { cfg.Risk.TakeProfitPct = f })
	num("START_PRICE", func(f float64) { cfg.Sim.StartPrice = int64(f) })
	num("INITIAL_IDR", func(f float64) { cfg.Ledger.InitialQuote = f })
	num("INITIAL_BTC", func(f float64) { cfg.Ledger.InitialBase = f })
	return firstErr
}

// EngineMode 解析后的运行模式。
func (c AppConfig) EngineMode() engine.Mode {
	m, _ := engine.ParseMode(c.Mode)
	return m
}

// EngineParams 可热更新的引擎参数。
func (c AppConfig) EngineParams() engine.Params {
	tiers := make([]strategy.SizeTier, 0, len(c.Sizing.Tiers))
	for _, t := range c.Sizing.Tiers {
		tiers = append(tiers, strategy.SizeTier{
			Threshold: decimal.NewFromFloat(t.Threshold),
			Amount:    decimal.NewFromFloat(t.Amount),
		})
	}
	return engine.Params{
		SpreadPct:     c.Grid.SpreadPct,
		Step:          c.Grid.Step,
		Tolerance:     c.Grid.Tolerance,
		RebuildEvery:  c.Grid.RebuildEvery,
		Tiers:         tiers,
		MaxNotional:   decimal.NewFromFloat(c.Sizing.MaxNotional),
		StopLossPct:   c.Risk.StopLossPct,
		TakeProfitPct: c.Risk.TakeProfitPct,
		ProfitGate:    c.Risk.ProfitGate,
	}
}

// EngineConfig 组装引擎配置。
func (c AppConfig) EngineConfig() engine.Config {
	return engine.Config{
		Pair:          strings.ToLower(c.Pair),
		Mode:          c.EngineMode(),
		TickInterval:  time.Duration(c.Loop.IntervalMs) * time.Millisecond,
		FetchTimeout:  time.Duration(c.Loop.FetchTimeoutMs) * time.Millisecond,
		SubmitTimeout: time.Duration(c.Loop.SubmitTimeoutMs) * time.Millisecond,
		Params:        c.EngineParams(),
	}
}
