// Package recorder 追加写入已执行动作的流水（CSV / SQLite / 内存）。
package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 动作类型。
type Kind string

const (
	KindBuy            Kind = "BUY"
	KindSell           Kind = "SELL"
	KindStopLossSell   Kind = "STOP_LOSS_SELL"
	KindTakeProfitSell Kind = "TAKE_PROFIT_SELL"
	KindNoop           Kind = "NOOP"
)

// ActionRecord 一次已落账的动作，写入后不再修改。
// Requested 只在实盘成交量与请求量不一致时填写。
type ActionRecord struct {
	Timestamp    time.Time
	Mode         string
	Kind         Kind
	Price        int64
	Quantity     decimal.Decimal
	Requested    decimal.Decimal
	QuoteBalance decimal.Decimal
	BaseBalance  decimal.Decimal
	Note         string
}

// Recorder 流水写入端口。Record 不向调用方返回错误，实现自行记录写入失败。
type Recorder interface {
	Record(rec ActionRecord)
	Close() error
}

// Memory 把流水保存在内存里，回测和测试使用。
type Memory struct {
	mu      sync.Mutex
	records []ActionRecord
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(rec ActionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records 返回副本。
func (m *Memory) Records() []ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActionRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Multi 按顺序扇出到多个 Recorder。
type Multi []Recorder

func (m Multi) Record(rec ActionRecord) {
	for _, r := range m {
		if r != nil {
			r.Record(rec)
		}
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
