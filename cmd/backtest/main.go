package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"grid-trader-go/config"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/inventory"
	"grid-trader-go/recorder"
	"grid-trader-go/sim"
)

// 用历史价格回放网格策略（模拟成交）。
// 用法：
//
//	go run ./cmd/backtest -config configs/gridbot.yaml -prices data/btc_idr.csv -out backtest_log.csv
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（为空使用默认值）")
	pricesPath := flag.String("prices", "data/btc_idr.csv", "价格 CSV（price 列或最后一列）")
	outPath := flag.String("out", "", "若指定则写入成交流水 CSV")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	f, err := os.Open(*pricesPath)
	if err != nil {
		log.Fatalf("打开价格文件失败: %v", err)
	}
	prices, err := sim.LoadPrices(f)
	f.Close()
	if err != nil {
		log.Fatalf("读取价格失败: %v", err)
	}
	if len(prices) == 0 {
		log.Fatalf("价格文件为空: %s", *pricesPath)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	var rec recorder.Recorder
	if *outPath != "" {
		csv, err := recorder.NewCSVRecorder(*outPath, lg.Logger)
		if err != nil {
			log.Fatalf("打开流水文件失败: %v", err)
		}
		rec = csv
	}

	runner, err := sim.BuildRunner(sim.RunnerConfig{
		Pair:         cfg.Pair,
		Params:       cfg.EngineParams(),
		InitialQuote: decimal.NewFromFloat(cfg.Ledger.InitialQuote),
		InitialBase:  decimal.NewFromFloat(cfg.Ledger.InitialBase),
		Tracking:     inventory.TrackingKind(cfg.Risk.Tracking),
		Recorder:     rec,
		Logger:       lg,
	})
	if err != nil {
		log.Fatalf("初始化回测失败: %v", err)
	}

	report, err := runner.Run(context.Background(), prices)
	if err != nil {
		log.Fatalf("回测失败: %v", err)
	}
	fmt.Printf("%s: %s\n", *pricesPath, report)
	fmt.Printf("prices: first=%d last=%d\n", report.FirstPrice, report.LastPrice)
}
