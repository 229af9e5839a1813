package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"grid-trader-go/config"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/container"
	"grid-trader-go/internal/engine"
	"grid-trader-go/metrics"
)

// 网格交易机器人。
// 用法：
//
//	go run ./cmd/gridbot -config configs/gridbot.yaml -env .env
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（为空使用默认值 + 环境变量）")
	envFile := flag.String("env", ".env", "dotenv 文件，不存在则忽略")
	mode := flag.String("mode", "", "覆盖运行模式 SIMULATION/HYBRID/LIVE")
	metricsAddr := flag.String("metricsAddr", "", "覆盖 Prometheus metrics 监听地址")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath, *envFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := config.Validate(cfg); err != nil {
			log.Fatalf("配置无效: %v", err)
		}
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	err = run(cfg, *cfgPath, *envFile, lg)
	if err != nil {
		lg.Error("gridbot exited with error", zap.Error(err))
	}
	_ = lg.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, cfgPath, envFile string, lg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := container.NewLifecycleManager()
	p, err := buildPorts(cfg, lg)
	if err != nil {
		return err
	}
	if p.stream != nil {
		mgr.Register(p.stream)
	}

	rec, err := buildRecorder(cfg, lg)
	if err != nil {
		return err
	}
	ledger, err := buildLedger(cfg)
	if err != nil {
		_ = rec.Close()
		return err
	}

	eng, err := engine.New(cfg.EngineConfig(), engine.Components{
		Prices:   p.prices,
		Executor: p.executor,
		Balances: p.balances,
		Ledger:   ledger,
		Recorder: rec,
		Logger:   lg,
		Alerts:   buildAlerts(cfg, lg),
	})
	if err != nil {
		_ = rec.Close()
		return err
	}

	if cfg.HotReload.Enabled && cfgPath != "" {
		w, err := config.NewWatcher(cfgPath,
			time.Duration(cfg.HotReload.CooldownMs)*time.Millisecond,
			func(path string) (config.AppConfig, error) { return config.LoadWithEnvOverrides(path, envFile) },
			reloadHandler(cfg, eng, lg),
			lg.Logger)
		if err != nil {
			_ = eng.Close()
			return err
		}
		mgr.Register(w)
	}
	if cfg.Metrics.Addr != "" {
		mgr.Register(container.NewHTTPServer("metrics", cfg.Metrics.Addr, metrics.NewMux(mgr.CheckHealth), lg))
	}

	if err := mgr.StartAll(ctx); err != nil {
		_ = eng.Close()
		return err
	}
	defer func() {
		if err := mgr.StopAll(); err != nil {
			lg.Warn("Failed to stop components", zap.Error(err))
		}
	}()

	notify(lg, daemon.SdNotifyReady)
	go watchdog(ctx, mgr, lg)

	lg.Info("gridbot started",
		zap.String("mode", string(cfg.EngineMode())),
		zap.String("pair", cfg.Pair),
		zap.String("price_feed", p.feed))

	runErr := eng.Run(ctx)
	notify(lg, daemon.SdNotifyStopping)

	printSummary(eng)
	return runErr
}

// reloadHandler 只有策略参数可以热更新；模式、交易对、账本等需要重启。
func reloadHandler(initial config.AppConfig, eng *engine.TradingEngine, lg *logger.Logger) func(config.AppConfig) {
	return func(next config.AppConfig) {
		if next.EngineMode() != initial.EngineMode() || next.Pair != initial.Pair {
			lg.Warn("Mode/pair changes require a restart, ignoring them",
				zap.String("mode", next.Mode), zap.String("pair", next.Pair))
		}
		if err := eng.Reconfigure(next.EngineParams()); err != nil {
			lg.LogError(err, map[string]interface{}{"action": "reconfigure"})
		}
	}
}

func buildAlerts(cfg config.AppConfig, lg *logger.Logger) *alert.Manager {
	channels := []alert.Channel{alert.NewZapChannel(lg.Logger)}
	if cfg.Alerts.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(cfg.Alerts.WebhookURL, 0))
	}
	return alert.NewManager(channels, time.Duration(cfg.Alerts.ThrottleMs)*time.Millisecond)
}

func notify(lg *logger.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		lg.Debug("sd_notify failed", zap.Error(err))
	}
}

// watchdog systemd WatchdogSec 开启时，组件健康才喂狗。
func watchdog(ctx context.Context, mgr *container.LifecycleManager, lg *logger.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mgr.CheckHealth(); err != nil {
				lg.Warn("Health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}

func printSummary(eng *engine.TradingEngine) {
	snap := eng.Snapshot()
	stats := eng.Statistics()
	fmt.Printf("ticks=%d skipped=%d buys=%d sells=%d sl=%d tp=%d noops=%d failures=%d halted=%v\n",
		stats.TotalTicks, stats.SkippedTicks, stats.Buys, stats.Sells, stats.StopLosses, stats.TakeProfits,
		stats.Noops, stats.ExecutionFailures, eng.Halted())
	if snap.Price > 0 {
		fmt.Printf("final: price=%d quote=%s base=%s value=%s\n",
			snap.Price, snap.Quote.StringFixed(0), snap.Base.String(), snap.Value.StringFixed(0))
	}
}
