package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// TimestampLayout CSV 中 UTC 时间的格式。
const TimestampLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"timestamp_utc", "mode", "action", "price", "amount_btc", "balance_idr", "balance_btc", "note"}

// CSVRecorder 以追加方式写 CSV，文件新建时写一次表头，每行写完立即 flush。
type CSVRecorder struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	logger *zap.Logger
}

// NewCSVRecorder 打开（或创建）path。
func NewCSVRecorder(path string, logger *zap.Logger) (*CSVRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	r := &CSVRecorder{file: f, w: csv.NewWriter(f), logger: logger}
	if fresh {
		if err := r.writeRow(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return r, nil
}

func (r *CSVRecorder) Record(rec ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		r.logger.Warn("csv recorder closed, record dropped", zap.String("kind", string(rec.Kind)))
		return
	}
	if err := r.writeRow(csvRow(rec)); err != nil {
		r.logger.Error("csv record write failed", zap.Error(err), zap.String("kind", string(rec.Kind)))
	}
}

func (r *CSVRecorder) writeRow(row []string) error {
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.w.Flush()
	err := r.file.Close()
	r.file = nil
	return err
}

func csvRow(rec ActionRecord) []string {
	return []string{
		rec.Timestamp.UTC().Format(TimestampLayout),
		rec.Mode,
		string(rec.Kind),
		strconv.FormatInt(rec.Price, 10),
		rec.Quantity.String(),
		rec.QuoteBalance.String(),
		rec.BaseBalance.String(),
		noteWithRequested(rec),
	}
}

// noteWithRequested 实盘部分成交时把请求量附加到备注。
func noteWithRequested(rec ActionRecord) string {
	if rec.Requested.IsZero() {
		return rec.Note
	}
	extra := "requested=" + rec.Requested.String()
	if rec.Note == "" {
		return extra
	}
	return rec.Note + " " + extra
}
