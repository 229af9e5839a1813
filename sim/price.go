package sim

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"grid-trader-go/gateway"
)

// RandomWalk 模拟行情：每次取价在上一价格基础上加 U[-vol, vol]，最低为 1。
type RandomWalk struct {
	mu    sync.Mutex
	price int64
	vol   int64
	rng   *rand.Rand
}

// NewRandomWalk seed 固定时序列可复现。
func NewRandomWalk(start, volatility, seed int64) (*RandomWalk, error) {
	if start <= 0 {
		return nil, fmt.Errorf("start price must be > 0, got %d", start)
	}
	if volatility < 0 {
		return nil, fmt.Errorf("volatility must be >= 0, got %d", volatility)
	}
	return &RandomWalk{price: start, vol: volatility, rng: rand.New(rand.NewSource(seed))}, nil
}

// Next 推进一步并返回新价格。
func (w *RandomWalk) Next() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	delta := int64(0)
	if w.vol > 0 {
		delta = w.rng.Int63n(2*w.vol+1) - w.vol
	}
	w.price += delta
	if w.price < 1 {
		w.price = 1
	}
	return w.price
}

func (w *RandomWalk) FetchPrice(context.Context, string) (int64, error) {
	return w.Next(), nil
}

// Replay 按顺序回放给定价格，用完后返回 ErrExhausted。
type Replay struct {
	mu     sync.Mutex
	prices []int64
	pos    int
}

// ErrExhausted 回放序列已结束。
var ErrExhausted = errors.New("replay exhausted")

func NewReplay(prices []int64) *Replay {
	cp := make([]int64, len(prices))
	copy(cp, prices)
	return &Replay{prices: cp}
}

func (r *Replay) FetchPrice(context.Context, string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.prices) {
		return 0, fmt.Errorf("%w: %w", gateway.ErrPriceUnavailable, ErrExhausted)
	}
	p := r.prices[r.pos]
	r.pos++
	return p, nil
}

// Remaining 剩余未回放的数量。
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prices) - r.pos
}

// LoadPrices 读取 CSV 价格序列：使用名为 price 的列，没有表头时取最后一列。
// 小数价格向零截断。
func LoadPrices(r io.Reader) ([]int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := -1
	start := 0
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(name), "price") {
			col, start = i, 1
			break
		}
	}

	out := make([]int64, 0, len(rows)-start)
	for n, row := range rows[start:] {
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		idx := col
		if idx < 0 {
			idx = len(row) - 1
		}
		if idx >= len(row) {
			return nil, fmt.Errorf("line %d: missing price column", n+start+1)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(row[idx]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+start+1, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("line %d: price must be > 0", n+start+1)
		}
		out = append(out, d.IntPart())
	}
	return out, nil
}
