// Package metrics 网格机器人的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridbot"

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ticks_total", Help: "Processed ticks",
	})
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "actions_total", Help: "Applied actions by kind",
	}, []string{"kind"})
	NoopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "noops_total", Help: "Signals that did not result in an action",
	}, []string{"reason"})
	PriceUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "price_unavailable_total", Help: "Skipped ticks without a price",
	})
	ExecutionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "execution_failures_total", Help: "Failed or zero-fill submissions",
	}, []string{"side"})
	GridRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "grid_rebuilds_total", Help: "Grid rebuilds",
	})

	LastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "last_price", Help: "Last processed price",
	})
	QuoteBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "quote_balance", Help: "Quote currency balance",
	})
	BaseBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "base_balance", Help: "Base asset balance",
	})
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "portfolio_value", Help: "quote + base*price",
	})
	GridLow = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "grid_low", Help: "Lowest grid level",
	})
	GridHigh = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "grid_high", Help: "Highest grid level",
	})
	RiskArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "risk_armed", Help: "1 when stop-loss/take-profit is armed",
	})
)

// UpdateBalances 刷新余额与估值。
func UpdateBalances(price, quote, base, value float64) {
	LastPrice.Set(price)
	QuoteBalance.Set(quote)
	BaseBalance.Set(base)
	PortfolioValue.Set(value)
}

// UpdateGrid 刷新网格上下沿。
func UpdateGrid(low, high int64) {
	GridRebuildsTotal.Inc()
	GridLow.Set(float64(low))
	GridHigh.Set(float64(high))
}

func SetRiskArmed(armed bool) {
	if armed {
		RiskArmed.Set(1)
		return
	}
	RiskArmed.Set(0)
}

// Handler /metrics 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux 挂载 /metrics 与 /healthz；health 为 nil 时 /healthz 恒为 ok。
func NewMux(health func() error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
