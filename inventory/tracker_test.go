package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracker(t *testing.T) {
	tr, err := NewTracker(TrackingFIFO)
	require.NoError(t, err)
	assert.IsType(t, &FIFOTracker{}, tr)

	tr, err = NewTracker("AGGREGATE")
	require.NoError(t, err)
	assert.IsType(t, &AggregateTracker{}, tr)

	tr, err = NewTracker("")
	require.NoError(t, err)
	assert.IsType(t, &AggregateTracker{}, tr)

	_, err = NewTracker("lifo")
	assert.Error(t, err)
}

func TestFIFOTrackerPartialSplit(t *testing.T) {
	f := &FIFOTracker{}
	f.RecordEntry(100, d("1"), t0)
	f.RecordEntry(200, d("1"), t0)
	f.RecordEntry(300, d("0"), t0) // ignored

	f.ConsumeOnExit(d("0.25"), d("2"))
	pos := f.Positions()
	require.Len(t, pos, 2)
	assert.Equal(t, "0.75", pos[0].Quantity.String())
	assert.Equal(t, int64(100), pos[0].EntryPrice)

	f.ConsumeOnExit(d("5"), d("1.75"))
	assert.Empty(t, f.Positions())
	_, ok := f.ActiveEntryPrice()
	assert.False(t, ok)
}

func TestAggregateTrackerLastBuyWins(t *testing.T) {
	a := &AggregateTracker{}
	a.RecordEntry(100, d("1"), t0)
	a.RecordEntry(90, d("1"), t0)
	p, ok := a.ActiveEntryPrice()
	assert.True(t, ok)
	assert.Equal(t, int64(90), p)

	a.ConsumeOnExit(d("1"), d("2"))
	_, ok = a.ActiveEntryPrice()
	assert.True(t, ok)
	a.ConsumeOnExit(d("1"), d("1"))
	_, ok = a.ActiveEntryPrice()
	assert.False(t, ok)
}
