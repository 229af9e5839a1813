// Package gateway 定义引擎与外部世界之间的端口：行情、下单、余额。
// 模拟实现在 sim 包，Indodax 实现在 gateway/indodax。
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPriceUnavailable 本 tick 拿不到价格，跳过。
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrExecutionFailed 下单失败或零成交，账本不变。
	ErrExecutionFailed = errors.New("execution failed")
)

// PriceSource 行情端口，价格为计价币最小单位的整数。
type PriceSource interface {
	FetchPrice(ctx context.Context, pair string) (int64, error)
}

// SellReason 卖出原因，决定模拟成交的备注。
type SellReason string

const (
	ReasonGrid       SellReason = "grid"
	ReasonStopLoss   SellReason = "stop_loss"
	ReasonTakeProfit SellReason = "take_profit"
)

// BuyRequest 买入请求。Notional 为实盘按计价币金额下单时使用的金额。
type BuyRequest struct {
	Pair     string
	Price    int64
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// SellRequest 卖出请求，按基础币数量下单。
type SellRequest struct {
	Pair     string
	Price    int64
	Quantity decimal.Decimal
	Reason   SellReason
}

// Fill 成交结果。Quantity 为实际成交的基础币数量，Raw 是写入流水的原始备注。
type Fill struct {
	Quantity decimal.Decimal
	Raw      string
}

// Executor 下单端口。只报告结果，不修改账本。
type Executor interface {
	SubmitBuy(ctx context.Context, req BuyRequest) (Fill, error)
	SubmitSell(ctx context.Context, req SellRequest) (Fill, error)
}

// BalanceSource 实盘余额端口。
type BalanceSource interface {
	FetchBalances(ctx context.Context) (quote, base decimal.Decimal, err error)
}

// Fallback 依次尝试多个行情源，返回第一个成功的价格。
type Fallback []PriceSource

func (f Fallback) FetchPrice(ctx context.Context, pair string) (int64, error) {
	var errs []error
	for _, src := range f {
		if src == nil {
			continue
		}
		price, err := src.FetchPrice(ctx, pair)
		if err == nil && price > 0 {
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %d", price)
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("%w: %w", ErrPriceUnavailable, errors.Join(errs...))
}
