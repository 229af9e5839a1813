package indodax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grid-trader-go/gateway"
)

// FetchPrice 读取公开 ticker 的 last 价格。
func (c *Client) FetchPrice(ctx context.Context, pair string) (int64, error) {
	var body struct {
		Ticker struct {
			Last decimal.NullDecimal `json:"last"`
		} `json:"ticker"`
	}
	if err := c.publicGet(ctx, "/api/ticker/"+url.PathEscape(pair), &body); err != nil {
		return 0, fmt.Errorf("%w: %w", gateway.ErrPriceUnavailable, err)
	}
	if !body.Ticker.Last.Valid {
		return 0, fmt.Errorf("%w: ticker.last missing", gateway.ErrPriceUnavailable)
	}
	price := body.Ticker.Last.Decimal.IntPart()
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive last %s", gateway.ErrPriceUnavailable, body.Ticker.Last.Decimal)
	}
	return price, nil
}

// Trader 用 TAPI 下单并查询余额，实现 gateway.Executor 与 gateway.BalanceSource。
type Trader struct {
	client *Client
	pair   string
	base   string
	quote  string
}

// NewTrader pair 形如 btc_idr。
func NewTrader(client *Client, pair string) (*Trader, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return nil, err
	}
	return &Trader{client: client, pair: pair, base: base, quote: quote}, nil
}

// SubmitBuy 按计价币金额下单（idr=Notional 取整），成交量读取 receive_<base>。
func (t *Trader) SubmitBuy(ctx context.Context, req gateway.BuyRequest) (gateway.Fill, error) {
	notional := req.Notional.IntPart()
	if notional <= 0 {
		return gateway.Fill{}, fmt.Errorf("%w: buy notional %s", gateway.ErrExecutionFailed, req.Notional)
	}
	params := url.Values{}
	params.Set("pair", t.pair)
	params.Set("type", "buy")
	params.Set("price", strconv.FormatInt(req.Price, 10))
	params.Set(t.quote, strconv.FormatInt(notional, 10))
	return t.trade(ctx, params, "receive_"+t.base)
}

// SubmitSell 按基础币数量下单，成交量读取 sold_<base>。
func (t *Trader) SubmitSell(ctx context.Context, req gateway.SellRequest) (gateway.Fill, error) {
	if !req.Quantity.IsPositive() {
		return gateway.Fill{}, fmt.Errorf("%w: sell quantity %s", gateway.ErrExecutionFailed, req.Quantity)
	}
	params := url.Values{}
	params.Set("pair", t.pair)
	params.Set("type", "sell")
	params.Set("price", strconv.FormatInt(req.Price, 10))
	params.Set(t.base, req.Quantity.String())
	return t.trade(ctx, params, "sold_"+t.base)
}

func (t *Trader) trade(ctx context.Context, params url.Values, fillKey string) (gateway.Fill, error) {
	params.Set("client_order_id", uuid.NewString())

	var ret map[string]json.RawMessage
	if err := t.client.private(ctx, "trade", params, false, &ret); err != nil {
		return gateway.Fill{}, fmt.Errorf("%w: %w", gateway.ErrExecutionFailed, err)
	}
	raw, _ := json.Marshal(ret)
	fill := gateway.Fill{Quantity: decimal.Zero, Raw: "live_res=" + string(raw)}
	if v, ok := ret[fillKey]; ok {
		var qty decimal.Decimal
		if err := json.Unmarshal(v, &qty); err != nil {
			return fill, fmt.Errorf("%w: parse %s: %w", gateway.ErrExecutionFailed, fillKey, err)
		}
		fill.Quantity = qty
	}
	return fill, nil
}

// FetchBalances getInfo 中的可用余额。
func (t *Trader) FetchBalances(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var ret struct {
		Balance map[string]json.RawMessage `json:"balance"`
	}
	if err := t.client.private(ctx, "getInfo", url.Values{}, true, &ret); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	quote, err := balanceOf(ret.Balance, t.quote)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	base, err := balanceOf(ret.Balance, t.base)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return quote, base, nil
}

func balanceOf(balances map[string]json.RawMessage, asset string) (decimal.Decimal, error) {
	v, ok := balances[asset]
	if !ok {
		return decimal.Zero, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(v, &d); err != nil {
		return decimal.Zero, fmt.Errorf("parse %s balance: %w", asset, err)
	}
	return d, nil
}
