package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SQLiteRecorder 把流水写入 actions 表。
type SQLiteRecorder struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
	// Timeout 单次写入超时
	Timeout time.Duration
}

// NewSQLiteRecorder 打开数据库并建表。
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	r := &SQLiteRecorder{db: db, logger: logger, Timeout: 5 * time.Second}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			mode TEXT NOT NULL,
			kind TEXT NOT NULL,
			price INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			requested TEXT NOT NULL DEFAULT '0',
			quote_balance TEXT NOT NULL,
			base_balance TEXT NOT NULL,
			note TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(ts);`,
	}
	for _, q := range queries {
		if _, err := r.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(rec ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO actions (ts, mode, kind, price, quantity, requested, quote_balance, base_balance, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC(), rec.Mode, string(rec.Kind), rec.Price,
		rec.Quantity.String(), rec.Requested.String(),
		rec.QuoteBalance.String(), rec.BaseBalance.String(), rec.Note,
	)
	if err != nil {
		r.logger.Error("sqlite record write failed", zap.Error(err), zap.String("kind", string(rec.Kind)))
	}
}

// List 按写入顺序返回最近 limit 条（limit <= 0 返回全部）。
func (r *SQLiteRecorder) List(ctx context.Context, limit int) ([]ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, fmt.Errorf("sqlite recorder closed")
	}

	query := `SELECT ts, mode, kind, price, quantity, requested, quote_balance, base_balance, note
		FROM (SELECT * FROM actions ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			rec                   ActionRecord
			kind                  string
			qty, req, quote, base string
			note                  sql.NullString
		)
		if err := rows.Scan(&rec.Timestamp, &rec.Mode, &kind, &rec.Price, &qty, &req, &quote, &base, &note); err != nil {
			return nil, err
		}
		rec.Kind = Kind(kind)
		rec.Note = note.String
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if rec.Requested, err = decimal.NewFromString(req); err != nil {
			return nil, fmt.Errorf("parse requested: %w", err)
		}
		if rec.QuoteBalance, err = decimal.NewFromString(quote); err != nil {
			return nil, fmt.Errorf("parse quote balance: %w", err)
		}
		if rec.BaseBalance, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("parse base balance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
