package sim

import (
	"context"
	"fmt"
	"sync"

	"grid-trader-go/gateway"
)

// PaperBroker 模拟成交：按请求数量全部成交，不修改账本。
type PaperBroker struct {
	mu     sync.Mutex
	orders int
}

func NewPaperBroker() *PaperBroker { return &PaperBroker{} }

func (b *PaperBroker) SubmitBuy(_ context.Context, req gateway.BuyRequest) (gateway.Fill, error) {
	if !req.Quantity.IsPositive() {
		return gateway.Fill{}, fmt.Errorf("%w: buy quantity %s", gateway.ErrExecutionFailed, req.Quantity)
	}
	b.count()
	return gateway.Fill{Quantity: req.Quantity, Raw: "sim_buy"}, nil
}

func (b *PaperBroker) SubmitSell(_ context.Context, req gateway.SellRequest) (gateway.Fill, error) {
	if !req.Quantity.IsPositive() {
		return gateway.Fill{}, fmt.Errorf("%w: sell quantity %s", gateway.ErrExecutionFailed, req.Quantity)
	}
	b.count()
	return gateway.Fill{Quantity: req.Quantity, Raw: simNote(req.Reason)}, nil
}

func (b *PaperBroker) count() {
	b.mu.Lock()
	b.orders++
	b.mu.Unlock()
}

// Orders 已模拟成交的订单数。
func (b *PaperBroker) Orders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders
}

func simNote(reason gateway.SellReason) string {
	switch reason {
	case gateway.ReasonStopLoss:
		return "sim_sl_sell"
	case gateway.ReasonTakeProfit:
		return "sim_tp_sell"
	default:
		return "sim_sell"
	}
}
