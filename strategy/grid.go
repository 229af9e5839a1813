package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfiguration 网格或仓位参数非法，启动阶段视为致命错误。
var ErrInvalidConfiguration = errors.New("invalid configuration")

// degenerateWidth 对齐后上下沿重合时强制展开的档数。
const degenerateWidth = 10

// Grid 是按固定步长严格递增的价格档位（计价货币最小单位），只保存上下沿与步长。
// 重建时整体替换，不做局部修改。
type Grid struct {
	low  int64
	high int64
	step int64
}

// ValidateGridParams 校验网格参数。
func ValidateGridParams(spreadFraction float64, step int64) error {
	if step <= 0 {
		return fmt.Errorf("%w: grid step must be > 0, got %d", ErrInvalidConfiguration, step)
	}
	if spreadFraction <= 0 || spreadFraction >= 1 {
		return fmt.Errorf("%w: grid spread must be in (0,1), got %v", ErrInvalidConfiguration, spreadFraction)
	}
	return nil
}

// BuildGrid 以 reference 为中心生成 ±spreadFraction 的网格，上下沿向下对齐到 step 的整数倍。
func BuildGrid(reference int64, spreadFraction float64, step int64) (Grid, error) {
	if err := ValidateGridParams(spreadFraction, step); err != nil {
		return Grid{}, err
	}
	if reference <= 0 {
		return Grid{}, fmt.Errorf("%w: reference price must be > 0, got %d", ErrInvalidConfiguration, reference)
	}

	ref := decimal.NewFromInt(reference)
	spread := decimal.NewFromFloat(spreadFraction)
	one := decimal.NewFromInt(1)
	low := ref.Mul(one.Sub(spread)).IntPart()
	high := ref.Mul(one.Add(spread)).IntPart()

	low = alignDown(low, step)
	high = alignDown(high, step)
	if high <= low {
		high = low + degenerateWidth*step
	}

	return Grid{low: low, high: high, step: step}, nil
}

func alignDown(v, step int64) int64 {
	q := v / step
	if v%step != 0 && v < 0 {
		q--
	}
	return q * step
}

// Nearest 返回距离 price 最近的档位；距离相同取较低档。空网格返回 price 本身。
func (g Grid) Nearest(price int64) int64 {
	if g.IsEmpty() {
		return price
	}
	if price <= g.low {
		return g.low
	}
	if price >= g.high {
		return g.high
	}
	below := g.low + (price-g.low)/g.step*g.step
	above := below + g.step
	if price-below <= above-price {
		return below
	}
	return above
}

// Levels 展开全部档位，档位很多时开销大，只用于展示和测试。
func (g Grid) Levels() []int64 {
	if g.IsEmpty() {
		return nil
	}
	out := make([]int64, 0, g.Len())
	for p := g.low; p <= g.high; p += g.step {
		out = append(out, p)
	}
	return out
}

// Len 档位数量，不展开。
func (g Grid) Len() int {
	if g.IsEmpty() {
		return 0
	}
	return int((g.high-g.low)/g.step) + 1
}

func (g Grid) Step() int64   { return g.step }
func (g Grid) IsEmpty() bool { return g.step <= 0 }

// Low 最低档，空网格为 0。
func (g Grid) Low() int64 { return g.low }

// High 最高档，空网格为 0。
func (g Grid) High() int64 { return g.high }
