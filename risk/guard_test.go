package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubGuard struct {
	err error
}

func (s stubGuard) PreOrder(Side, int64, decimal.Decimal) error {
	return s.err
}

type stubEntries struct {
	price int64
	ok    bool
}

func (s stubEntries) ActiveEntry() (int64, bool) { return s.price, s.ok }

func TestMultiGuard(t *testing.T) {
	boom := errors.New("boom")
	g := MultiGuard{
		Guards: []Guard{
			stubGuard{},          // pass
			nil,                  // skipped
			stubGuard{err: boom}, // fail
		},
	}
	assert.ErrorIs(t, g.PreOrder(SideSell, 100, decimal.NewFromInt(1)), boom)
	assert.NoError(t, MultiGuard{}.PreOrder(SideBuy, 100, decimal.NewFromInt(1)))
}

func TestProfitGate(t *testing.T) {
	qty := decimal.RequireFromString("0.0001")
	gate := ProfitGate{Entries: stubEntries{price: 1_000_000, ok: true}}

	assert.NoError(t, gate.PreOrder(SideSell, 1_000_001, qty))
	assert.ErrorIs(t, gate.PreOrder(SideSell, 1_000_000, qty), ErrProfitGate)
	assert.ErrorIs(t, gate.PreOrder(SideSell, 900_000, qty), ErrProfitGate)
	// 买单不受影响
	assert.NoError(t, gate.PreOrder(SideBuy, 900_000, qty))

	empty := ProfitGate{Entries: stubEntries{}}
	err := empty.PreOrder(SideSell, 1_000_000, qty)
	assert.ErrorIs(t, err, ErrProfitGate)
	assert.ErrorIs(t, err, ErrNoEntry)
}
