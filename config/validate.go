package config

import (
	"fmt"
	"strings"

	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	mode, err := engine.ParseMode(cfg.Mode)
	if err != nil {
		return ErrInvalid(fmt.Sprintf("mode: %v", err))
	}
	parts := strings.Split(cfg.Pair, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ErrInvalid(fmt.Sprintf("pair %q must look like base_quote", cfg.Pair))
	}
	if err := cfg.EngineParams().Validate(); err != nil {
		return fmt.Errorf("engine params: %w", err)
	}
	if _, err := inventory.NewTracker(inventory.TrackingKind(cfg.Risk.Tracking)); err != nil {
		return ErrInvalid(fmt.Sprintf("risk.tracking: %v", err))
	}
	if cfg.Ledger.InitialQuote < 0 || cfg.Ledger.InitialBase < 0 {
		return ErrInvalid("ledger initial balances must be >= 0")
	}
	if cfg.Loop.IntervalMs <= 0 {
		return ErrInvalid("loop.intervalMs must be > 0")
	}
	if cfg.Loop.FetchTimeoutMs < 0 || cfg.Loop.SubmitTimeoutMs < 0 {
		return ErrInvalid("loop timeouts must be >= 0")
	}

	switch mode {
	case engine.ModeSimulation:
		if cfg.Sim.StartPrice <= 0 {
			return ErrInvalid("sim.startPrice must be > 0")
		}
		if cfg.Sim.Volatility < 0 {
			return ErrInvalid("sim.volatility must be >= 0")
		}
	case engine.ModeLive:
		if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
			return ErrInvalid("gateway.apiKey/apiSecret is required in LIVE mode (or API_KEY/API_SECRET)")
		}
	}
	if mode != engine.ModeSimulation {
		switch cfg.Gateway.PriceFeed {
		case "rest", "ws":
		default:
			return ErrInvalid(fmt.Sprintf("gateway.priceFeed must be rest or ws, got %q", cfg.Gateway.PriceFeed))
		}
		if cfg.Gateway.RateLimit < 0 || cfg.Gateway.RateBurst < 0 {
			return ErrInvalid("gateway rate limit must be >= 0")
		}
	}
	if cfg.Alerts.ThrottleMs < 0 {
		return ErrInvalid("alerts.throttleMs must be >= 0")
	}
	if cfg.HotReload.CooldownMs < 0 {
		return ErrInvalid("hotReload.cooldownMs must be >= 0")
	}
	return nil
}
