package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/gateway/indodax"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/sim"
)

// ports 按运行模式选择的端口实现。
type ports struct {
	prices   gateway.PriceSource
	executor gateway.Executor
	balances gateway.BalanceSource
	stream   *indodax.Stream // 仅 priceFeed=ws
	feed     string
}

// buildPorts SIMULATION 全部本地；HYBRID 实时价格 + 模拟成交；LIVE 全部走交易所。
func buildPorts(cfg config.AppConfig, lg *logger.Logger) (ports, error) {
	mode := cfg.EngineMode()
	if mode == engine.ModeSimulation {
		seed := cfg.Sim.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		walk, err := sim.NewRandomWalk(cfg.Sim.StartPrice, cfg.Sim.Volatility, seed)
		if err != nil {
			return ports{}, err
		}
		return ports{prices: walk, executor: sim.NewPaperBroker(), feed: "random_walk"}, nil
	}

	client := indodax.NewClient(indodax.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		APIKey:    cfg.Gateway.APIKey,
		APISecret: cfg.Gateway.APISecret,
		Timeout:   time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond,
		RateLimit: cfg.Gateway.RateLimit,
		RateBurst: cfg.Gateway.RateBurst,
	}, lg.Logger)

	p := ports{prices: client, executor: sim.NewPaperBroker(), feed: "rest"}
	if cfg.Gateway.PriceFeed == "ws" {
		stream, err := indodax.NewStream(indodax.StreamConfig{
			URL:    cfg.Gateway.WSURL,
			Token:  cfg.Gateway.WSToken,
			Pair:   cfg.Pair,
			MaxAge: streamMaxAge(cfg),
		}, lg.Logger)
		if err != nil {
			return ports{}, err
		}
		// 推送中断时退回 REST
		p.prices = gateway.Fallback{stream, client}
		p.stream = stream
		p.feed = "ws"
	}

	if mode == engine.ModeLive {
		trader, err := indodax.NewTrader(client, cfg.Pair)
		if err != nil {
			return ports{}, err
		}
		p.executor = trader
		p.balances = trader
	}
	return p, nil
}

func streamMaxAge(cfg config.AppConfig) time.Duration {
	age := 5 * time.Duration(cfg.Loop.IntervalMs) * time.Millisecond
	if age < 10*time.Second {
		age = 10 * time.Second
	}
	return age
}

func buildRecorder(cfg config.AppConfig, lg *logger.Logger) (recorder.Recorder, error) {
	var recs recorder.Multi
	if cfg.Recorder.CSVPath != "" {
		csv, err := recorder.NewCSVRecorder(cfg.Recorder.CSVPath, lg.Logger)
		if err != nil {
			return nil, fmt.Errorf("open csv log: %w", err)
		}
		recs = append(recs, csv)
	}
	if cfg.Recorder.SQLitePath != "" {
		db, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, lg.Logger)
		if err != nil {
			_ = recs.Close()
			return nil, fmt.Errorf("open sqlite log: %w", err)
		}
		recs = append(recs, db)
	}
	return recs, nil
}

func buildLedger(cfg config.AppConfig) (*inventory.Ledger, error) {
	tracker, err := inventory.NewTracker(inventory.TrackingKind(cfg.Risk.Tracking))
	if err != nil {
		return nil, err
	}
	return inventory.NewLedger(
		decimal.NewFromFloat(cfg.Ledger.InitialQuote),
		decimal.NewFromFloat(cfg.Ledger.InitialBase),
		tracker)
}
